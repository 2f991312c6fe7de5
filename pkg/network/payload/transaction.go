package payload

import (
	"errors"

	"github.com/timgates42/mako/pkg/crypto/hash"
	"github.com/timgates42/mako/pkg/io"
	"github.com/timgates42/mako/pkg/util"
)

// maxTxInOuts bounds input/output counts on decode. A valid transaction
// of maximum weight cannot get anywhere near it.
const maxTxInOuts = 1000000

// OutPoint references an output of a previous transaction.
type OutPoint struct {
	Hash  util.Uint256
	Index uint32
}

// DecodeBinary implements the Payload interface.
func (o *OutPoint) DecodeBinary(r *io.BinReader) {
	r.ReadBytes(o.Hash[:])
	o.Index = r.ReadU32LE()
}

// EncodeBinary implements the Payload interface.
func (o *OutPoint) EncodeBinary(w *io.BinWriter) {
	w.WriteBytes(o.Hash[:])
	w.WriteU32LE(o.Index)
}

// TxInput spends an outpoint.
type TxInput struct {
	PrevOut  OutPoint
	Script   []byte
	Sequence uint32
	// Witness stack, present only in witness serialization.
	Witness [][]byte
}

// DecodeBinary implements the Payload interface.
func (in *TxInput) DecodeBinary(r *io.BinReader) {
	in.PrevOut.DecodeBinary(r)
	in.Script = r.ReadVarBytes()
	in.Sequence = r.ReadU32LE()
}

// EncodeBinary implements the Payload interface.
func (in *TxInput) EncodeBinary(w *io.BinWriter) {
	in.PrevOut.EncodeBinary(w)
	w.WriteVarBytes(in.Script)
	w.WriteU32LE(in.Sequence)
}

// TxOutput is an amount locked by a script.
type TxOutput struct {
	Value  int64
	Script []byte
}

// DecodeBinary implements the Payload interface.
func (out *TxOutput) DecodeBinary(r *io.BinReader) {
	r.ReadLE(&out.Value)
	out.Script = r.ReadVarBytes()
}

// EncodeBinary implements the Payload interface.
func (out *TxOutput) EncodeBinary(w *io.BinWriter) {
	w.WriteLE(out.Value)
	w.WriteVarBytes(out.Script)
}

// Transaction is the full wire transaction, witness serialization
// included. The core never interprets scripts, it only frames, hashes
// and relays.
type Transaction struct {
	Version  int32
	Inputs   []*TxInput
	Outputs  []*TxOutput
	LockTime uint32

	hash        util.Uint256
	witnessHash util.Uint256
	hashCached  bool
}

// HasWitness returns true if any input carries a witness stack. The
// serialization format follows from it.
func (t *Transaction) HasWitness() bool {
	for _, in := range t.Inputs {
		if len(in.Witness) > 0 {
			return true
		}
	}
	return false
}

// DecodeBinary implements the Payload interface.
func (t *Transaction) DecodeBinary(r *io.BinReader) {
	r.ReadLE(&t.Version)
	count := r.ReadVarUint()
	hasWitness := false
	if count == 0 && r.Err == nil {
		// Segwit marker. The next byte is the flag, then the real
		// input count follows.
		if flag := r.ReadB(); flag != 1 && r.Err == nil {
			r.Err = errors.New("unsupported transaction flag")
			return
		}
		hasWitness = true
		count = r.ReadVarUint()
	}
	if count > maxTxInOuts {
		if r.Err == nil {
			r.Err = errTooLong
		}
		return
	}
	t.Inputs = make([]*TxInput, 0, count)
	for i := uint64(0); i < count && r.Err == nil; i++ {
		in := &TxInput{}
		in.DecodeBinary(r)
		t.Inputs = append(t.Inputs, in)
	}
	t.Outputs = nil
	r.ReadArray(func(i int) {
		if i >= maxTxInOuts {
			r.Err = errTooLong
			return
		}
		out := &TxOutput{}
		out.DecodeBinary(r)
		t.Outputs = append(t.Outputs, out)
	})
	if hasWitness {
		for _, in := range t.Inputs {
			if r.Err != nil {
				return
			}
			in.Witness = nil
			r.ReadArray(func(i int) {
				in.Witness = append(in.Witness, r.ReadVarBytes())
			})
		}
	}
	t.LockTime = r.ReadU32LE()
	t.hashCached = false
}

// EncodeBinary implements the Payload interface. Witness serialization
// is used whenever the transaction carries witnesses.
func (t *Transaction) EncodeBinary(w *io.BinWriter) {
	t.encode(w, t.HasWitness())
}

func (t *Transaction) encode(w *io.BinWriter, witness bool) {
	w.WriteLE(t.Version)
	if witness {
		w.WriteB(0)
		w.WriteB(1)
	}
	w.WriteVarUint(uint64(len(t.Inputs)))
	for _, in := range t.Inputs {
		in.EncodeBinary(w)
	}
	w.WriteVarUint(uint64(len(t.Outputs)))
	for _, out := range t.Outputs {
		out.EncodeBinary(w)
	}
	if witness {
		for _, in := range t.Inputs {
			w.WriteVarUint(uint64(len(in.Witness)))
			for _, item := range in.Witness {
				w.WriteVarBytes(item)
			}
		}
	}
	w.WriteU32LE(t.LockTime)
}

func (t *Transaction) calcHashes() {
	base := io.NewBufBinWriter()
	t.encode(base.BinWriter, false)
	t.hash = hash.DoubleSha256(base.Bytes())

	if t.HasWitness() {
		full := io.NewBufBinWriter()
		t.encode(full.BinWriter, true)
		t.witnessHash = hash.DoubleSha256(full.Bytes())
	} else {
		t.witnessHash = t.hash
	}
	t.hashCached = true
}

// Hash returns the transaction id: the sha256d of the serialization
// without witness data.
func (t *Transaction) Hash() util.Uint256 {
	if !t.hashCached {
		t.calcHashes()
	}
	return t.hash
}

// WitnessHash returns the wtxid. Equal to Hash() for transactions
// without witnesses.
func (t *Transaction) WitnessHash() util.Uint256 {
	if !t.hashCached {
		t.calcHashes()
	}
	return t.witnessHash
}

// Bytes returns the witness serialization of the transaction.
func (t *Transaction) Bytes() ([]byte, error) {
	buf := io.NewBufBinWriter()
	t.EncodeBinary(buf.BinWriter)
	if buf.Err != nil {
		return nil, buf.Err
	}
	return buf.Bytes(), nil
}
