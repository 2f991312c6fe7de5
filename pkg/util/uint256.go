package util

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// Uint256Size is the size of Uint256 in bytes.
const Uint256Size = 32

// Uint256 is a 32 byte long unsigned integer. Block and transaction
// hashes are stored in wire order (little-endian) and displayed
// reversed, the way the rest of the network does it.
type Uint256 [Uint256Size]uint8

// Uint256DecodeReverseString attempts to decode the given string (in
// reversed/display order) into a Uint256.
func Uint256DecodeReverseString(s string) (u Uint256, err error) {
	if len(s) != Uint256Size*2 {
		return u, fmt.Errorf("expected string size of %d got %d", Uint256Size*2, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return u, err
	}
	return Uint256DecodeReverseBytes(b)
}

// Uint256DecodeBytes attempts to decode the given bytes (in wire order)
// into a Uint256.
func Uint256DecodeBytes(b []byte) (u Uint256, err error) {
	if len(b) != Uint256Size {
		return u, fmt.Errorf("expected []byte of size %d got %d", Uint256Size, len(b))
	}
	copy(u[:], b)
	return u, nil
}

// Uint256DecodeReverseBytes attempts to decode the given bytes in reverse
// byte order into a Uint256.
func Uint256DecodeReverseBytes(b []byte) (u Uint256, err error) {
	b = ArrayReverse(b)
	return Uint256DecodeBytes(b)
}

// Bytes returns a byte slice representation of u in wire order.
func (u Uint256) Bytes() []byte {
	return u[:]
}

// Reverse reverses the Uint256 object.
func (u Uint256) Reverse() Uint256 {
	res, _ := Uint256DecodeReverseBytes(u.Bytes())
	return res
}

// BytesReverse returns a reversed byte representation of u.
func (u Uint256) BytesReverse() []byte {
	return ArrayReverse(u.Bytes())
}

// Equals returns true if both Uint256 values are the same.
func (u Uint256) Equals(other Uint256) bool {
	return u == other
}

// String implements the stringer interface. Hashes print reversed.
func (u Uint256) String() string {
	return u.ReverseString()
}

// ReverseString produces a string representation of Uint256 with its
// byte order reversed.
func (u Uint256) ReverseString() string {
	return hex.EncodeToString(ArrayReverse(u.Bytes()))
}

// CompareTo compares two Uint256 with each other. Possible output: 1, -1, 0.
//  1 implies u > other.
// -1 implies u < other.
//  0 implies u = other.
func (u Uint256) CompareTo(other Uint256) int {
	return bytes.Compare(u.Bytes(), other.Bytes())
}

// UnmarshalYAML implements the yaml unmarshaller interface. Hashes in
// configuration files are written in display order.
func (u *Uint256) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := Uint256DecodeReverseString(s)
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// MarshalYAML implements the yaml marshaller interface.
func (u Uint256) MarshalYAML() (interface{}, error) {
	return u.ReverseString(), nil
}

// ArrayReverse returns a reversed version of the given byte slice.
func ArrayReverse(b []byte) []byte {
	dest := make([]byte, len(b))
	for i, j := 0, len(b)-1; i <= j; i, j = i+1, j-1 {
		dest[i], dest[j] = b[j], b[i]
	}
	return dest
}
