package payload

import (
	"github.com/timgates42/mako/pkg/io"
	"github.com/timgates42/mako/pkg/util"
)

// MaxInvAllowed is the maximum number of inventory vectors a single inv,
// getdata or notfound message may carry.
const MaxInvAllowed = 50000

// InvType is the type tag of an inventory vector.
type InvType uint32

// Inventory vector types.
const (
	TXType            InvType = 1
	BlockType         InvType = 2
	FilteredBlockType InvType = 3
	CmpctBlockType    InvType = 4

	// witnessFlag upgrades a plain type to its witness-serialized
	// counterpart inside getdata.
	witnessFlag InvType = 1 << 30

	WitnessTXType            = TXType | witnessFlag
	WitnessBlockType         = BlockType | witnessFlag
	WitnessFilteredBlockType = FilteredBlockType | witnessFlag
)

// Valid returns true if the inventory type is known.
func (i InvType) Valid() bool {
	switch i {
	case TXType, BlockType, FilteredBlockType, CmpctBlockType,
		WitnessTXType, WitnessBlockType, WitnessFilteredBlockType:
		return true
	default:
		return false
	}
}

// Base strips the witness flag.
func (i InvType) Base() InvType {
	return i &^ witnessFlag
}

// String implements the stringer interface.
func (i InvType) String() string {
	switch i.Base() {
	case TXType:
		return "tx"
	case BlockType:
		return "block"
	case FilteredBlockType:
		return "filtered block"
	case CmpctBlockType:
		return "compact block"
	default:
		return "unknown inv type"
	}
}

// InvVect is a single (type, hash) inventory vector.
type InvVect struct {
	Type InvType
	Hash util.Uint256
}

// DecodeBinary implements the Payload interface.
func (v *InvVect) DecodeBinary(r *io.BinReader) {
	v.Type = InvType(r.ReadU32LE())
	r.ReadBytes(v.Hash[:])
}

// EncodeBinary implements the Payload interface.
func (v *InvVect) EncodeBinary(w *io.BinWriter) {
	w.WriteU32LE(uint32(v.Type))
	w.WriteBytes(v.Hash[:])
}

// Inventory is the body of inv, getdata and notfound.
type Inventory struct {
	Vects []InvVect
}

// NewInventory returns an Inventory carrying the given hashes under one
// type.
func NewInventory(typ InvType, hashes []util.Uint256) *Inventory {
	inv := &Inventory{Vects: make([]InvVect, len(hashes))}
	for i, h := range hashes {
		inv.Vects[i] = InvVect{Type: typ, Hash: h}
	}
	return inv
}

// DecodeBinary implements the Payload interface.
func (p *Inventory) DecodeBinary(r *io.BinReader) {
	p.Vects = nil
	r.ReadArray(func(i int) {
		if i >= MaxInvAllowed {
			r.Err = ErrTooManyInvs
			return
		}
		var v InvVect
		v.DecodeBinary(r)
		p.Vects = append(p.Vects, v)
	})
}

// EncodeBinary implements the Payload interface.
func (p *Inventory) EncodeBinary(w *io.BinWriter) {
	w.WriteVarUint(uint64(len(p.Vects)))
	for i := range p.Vects {
		p.Vects[i].EncodeBinary(w)
	}
}
