package network

import (
	"encoding/binary"
	"fmt"

	"github.com/timgates42/mako/pkg/config"
	"github.com/timgates42/mako/pkg/crypto/hash"
)

// parserState is the position of the framer inside the current frame.
type parserState int

const (
	stateNeedHeader parserState = iota
	stateNeedBody
)

// Parser splits an incoming byte stream into messages. It keeps exactly
// one frame of state and surfaces everything through the two callbacks:
// a decoded message or a framing error. It never fails hard, feeding it
// more bytes after an error resynchronizes on the next header.
type Parser struct {
	magic config.NetMode

	// OnMessage is invoked for every correctly framed message.
	OnMessage func(*Message)
	// OnParseError is invoked for every framing or decoding error.
	OnParseError func(error)

	state  parserState
	buf    []byte
	closed bool

	// current frame header
	cmd      CommandType
	rawCmd   string
	bodyLen  uint32
	checksum uint32
}

// NewParser creates a Parser for the given network.
func NewParser(magic config.NetMode) *Parser {
	return &Parser{magic: magic}
}

// Close makes the parser drop everything it is fed from now on.
func (p *Parser) Close() {
	p.closed = true
	p.buf = nil
}

// Feed consumes a chunk of stream bytes, firing callbacks for every
// complete frame found in it.
func (p *Parser) Feed(data []byte) {
	if p.closed {
		return
	}
	p.buf = append(p.buf, data...)

	for !p.closed {
		switch p.state {
		case stateNeedHeader:
			if len(p.buf) < headerSize {
				return
			}
			if !p.parseHeader() {
				return
			}
		case stateNeedBody:
			if uint32(len(p.buf)) < p.bodyLen {
				return
			}
			p.parseBody()
		}
	}
}

// parseHeader consumes the 24-byte frame header. A bad header has no
// reliable resync point, so everything buffered is dropped with it and
// false is returned to stop this round of consumption.
func (p *Parser) parseHeader() bool {
	hdr := p.buf[:headerSize]

	magic := config.NetMode(binary.LittleEndian.Uint32(hdr[0:4]))
	if magic != p.magic {
		p.buf = nil
		p.error(fmt.Errorf("bad magic 0x%x", uint32(magic)))
		return false
	}

	var raw [cmdSize]byte
	copy(raw[:], hdr[4:16])
	cmd, name, err := commandFromWire(raw)
	if err != nil {
		p.buf = nil
		p.error(err)
		return false
	}

	length := binary.LittleEndian.Uint32(hdr[16:20])
	if length > PayloadMaxSize {
		p.buf = nil
		p.error(fmt.Errorf("oversize payload of %d bytes for %s", length, name))
		return false
	}

	p.cmd = cmd
	p.rawCmd = name
	p.bodyLen = length
	p.checksum = binary.LittleEndian.Uint32(hdr[20:24])
	p.buf = p.buf[headerSize:]
	p.state = stateNeedBody
	return true
}

// parseBody consumes the payload, verifies the checksum and hands the
// decoded message upward.
func (p *Parser) parseBody() {
	body := p.buf[:p.bodyLen]
	p.buf = p.buf[p.bodyLen:]
	p.state = stateNeedHeader

	if hash.Checksum(body) != p.checksum {
		p.error(errChecksumMismatch)
		return
	}

	pl, err := decodePayload(p.cmd, body)
	if err != nil && pl == nil {
		p.error(fmt.Errorf("can't decode %s: %w", p.rawCmd, err))
		return
	}

	msg := &Message{
		Magic:      p.magic,
		Command:    p.cmd,
		Payload:    pl,
		rawCommand: p.rawCmd,
	}
	if err != nil {
		// Oversize list: the message is delivered with what was
		// decoded, the caller scores it.
		msg.oversizeErr = err
	}
	if p.OnMessage != nil {
		p.OnMessage(msg)
	}
}

func (p *Parser) error(err error) {
	if p.OnParseError != nil {
		p.OnParseError(err)
	}
}
