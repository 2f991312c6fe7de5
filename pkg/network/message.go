package network

import (
	"errors"
	"fmt"

	"github.com/timgates42/mako/pkg/config"
	"github.com/timgates42/mako/pkg/crypto/hash"
	"github.com/timgates42/mako/pkg/io"
	"github.com/timgates42/mako/pkg/network/payload"
)

const (
	// PayloadMaxSize is the maximum payload size a frame may declare.
	PayloadMaxSize = 32 * 1024 * 1024
	// cmdSize is the fixed width of the command field in the frame.
	cmdSize = 12
	// headerSize is the frame header: magic, command, length, checksum.
	headerSize = 4 + cmdSize + 4 + 4
)

// CommandType represents the type of a message command.
type CommandType string

// Valid protocol commands used to send between nodes.
const (
	CMDVersion     CommandType = "version"
	CMDVerack      CommandType = "verack"
	CMDPing        CommandType = "ping"
	CMDPong        CommandType = "pong"
	CMDGetAddr     CommandType = "getaddr"
	CMDAddr        CommandType = "addr"
	CMDInv         CommandType = "inv"
	CMDGetData     CommandType = "getdata"
	CMDNotFound    CommandType = "notfound"
	CMDGetBlocks   CommandType = "getblocks"
	CMDGetHeaders  CommandType = "getheaders"
	CMDHeaders     CommandType = "headers"
	CMDBlock       CommandType = "block"
	CMDTX          CommandType = "tx"
	CMDReject      CommandType = "reject"
	CMDMempool     CommandType = "mempool"
	CMDFeeFilter   CommandType = "feefilter"
	CMDSendHeaders CommandType = "sendheaders"
	CMDSendCmpct   CommandType = "sendcmpct"
	CMDCmpctBlock  CommandType = "cmpctblock"
	CMDGetBlockTxn CommandType = "getblocktxn"
	CMDBlockTxn    CommandType = "blocktxn"
	// CMDUnknown is the sentinel for commands this node does not
	// implement. They are logged and ignored, never an error.
	CMDUnknown CommandType = ""
)

// Message is the complete message sent between nodes.
type Message struct {
	// The network this message belongs to, the first field of the
	// frame.
	Magic config.NetMode
	// Command is the NUL-padded ASCII command of the frame.
	Command CommandType
	// Payload sent with the message.
	Payload payload.Payload
	// The raw command as it appeared in the frame, kept for logging
	// unknown commands.
	rawCommand string
	// Set when the payload list exceeded its protocol bound but was
	// otherwise well-formed. The peer machinery scores it.
	oversizeErr error
}

// OversizeErr reports whether the payload blew a protocol list bound
// (too many inv entries, headers or addresses) and with which error.
func (m *Message) OversizeErr() error {
	return m.oversizeErr
}

// NewMessage returns a new message for the given network with the given
// payload.
func NewMessage(magic config.NetMode, cmd CommandType, p payload.Payload) *Message {
	if p == nil {
		p = payload.NewNullPayload()
	}
	return &Message{
		Magic:   magic,
		Command: cmd,
		Payload: p,
	}
}

// CommandType returns the message command. For unknown commands the raw
// frame command is available through RawCommand.
func (m *Message) CommandType() CommandType {
	return m.Command
}

// RawCommand returns the command string as it appeared on the wire.
func (m *Message) RawCommand() string {
	if m.rawCommand != "" {
		return m.rawCommand
	}
	return string(m.Command)
}

var errChecksumMismatch = errors.New("checksum mismatch")

// Encode encodes a Message to the given BinWriter, frame and all.
func (m *Message) Encode(w *io.BinWriter) error {
	buf := io.NewBufBinWriter()
	m.Payload.EncodeBinary(buf.BinWriter)
	if buf.Err != nil {
		return buf.Err
	}
	body := buf.Bytes()
	if len(body) > PayloadMaxSize {
		return fmt.Errorf("payload of %s is too big", m.Command)
	}

	var cmd [cmdSize]byte
	copy(cmd[:], m.Command)

	w.WriteU32LE(uint32(m.Magic))
	w.WriteBytes(cmd[:])
	w.WriteU32LE(uint32(len(body)))
	w.WriteU32LE(hash.Checksum(body))
	w.WriteBytes(body)
	return w.Err
}

// Bytes serializes a Message into a new allocated buffer and returns it.
func (m *Message) Bytes() ([]byte, error) {
	w := io.NewBufBinWriter()
	if err := m.Encode(w.BinWriter); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// decodePayload decodes body into the typed payload of cmd. Unknown
// commands produce a NullPayload and CMDUnknown. Oversize list errors
// (ErrTooMany*) are returned together with the partially decoded
// payload so the caller can attribute them properly.
func decodePayload(cmd CommandType, body []byte) (payload.Payload, error) {
	var p payload.Payload
	switch cmd {
	case CMDVersion:
		p = &payload.Version{}
	case CMDVerack, CMDGetAddr, CMDMempool, CMDSendHeaders:
		return payload.NewNullPayload(), nil
	case CMDPing, CMDPong:
		if len(body) == 0 {
			// Pre-challenge peers ping with an empty body.
			return payload.NewPing(0), nil
		}
		p = &payload.Ping{}
	case CMDAddr:
		p = &payload.AddressList{}
	case CMDInv, CMDGetData, CMDNotFound:
		p = &payload.Inventory{}
	case CMDGetBlocks, CMDGetHeaders:
		p = &payload.GetBlocks{}
	case CMDHeaders:
		p = &payload.Headers{}
	case CMDBlock:
		p = &payload.Block{}
	case CMDTX:
		p = &payload.Transaction{}
	case CMDReject:
		p = &payload.Reject{}
	case CMDFeeFilter:
		p = &payload.FeeFilter{}
	case CMDSendCmpct:
		p = &payload.SendCmpct{}
	case CMDCmpctBlock:
		p = &payload.CompactBlock{}
	case CMDGetBlockTxn:
		p = &payload.BlockTxnRequest{}
	case CMDBlockTxn:
		p = &payload.BlockTxn{}
	default:
		return payload.NewNullPayload(), nil
	}

	r := io.NewBinReaderFromBuf(body)
	p.DecodeBinary(r)
	switch r.Err {
	case nil, payload.ErrTooManyHeaders, payload.ErrTooManyInvs, payload.ErrTooManyAddrs:
		return p, r.Err
	default:
		return nil, r.Err
	}
}

// commandFromWire maps the raw 12-byte frame command to a CommandType.
// The raw form must be NUL-terminated printable ASCII.
func commandFromWire(raw [cmdSize]byte) (CommandType, string, error) {
	end := -1
	for i, b := range raw {
		if b == 0 {
			end = i
			break
		}
		if b < 32 || b > 126 {
			return CMDUnknown, "", fmt.Errorf("non-printable byte in command at %d", i)
		}
	}
	if end == -1 {
		return CMDUnknown, "", errors.New("command not NUL-terminated")
	}
	name := string(raw[:end])
	// Everything after the terminator must stay NUL.
	for _, b := range raw[end:] {
		if b != 0 {
			return CMDUnknown, "", errors.New("garbage after command terminator")
		}
	}

	switch cmd := CommandType(name); cmd {
	case CMDVersion, CMDVerack, CMDPing, CMDPong, CMDGetAddr, CMDAddr,
		CMDInv, CMDGetData, CMDNotFound, CMDGetBlocks, CMDGetHeaders,
		CMDHeaders, CMDBlock, CMDTX, CMDReject, CMDMempool, CMDFeeFilter,
		CMDSendHeaders, CMDSendCmpct, CMDCmpctBlock, CMDGetBlockTxn,
		CMDBlockTxn:
		return cmd, name, nil
	default:
		return CMDUnknown, name, nil
	}
}
