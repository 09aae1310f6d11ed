// Package trb encodes and decodes xHCI Transfer Request Blocks.
//
// A TRB is a 16-byte little-endian structure: a 64-bit parameter, a 32-bit
// status word and a 32-bit control word. Bit 0 of the control word is the
// cycle bit and bits 15:10 hold the TRB type.
package trb

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/softxhci/pkg"
)

// Size is the encoded size of a TRB in bytes.
const Size = 16

const (
	cycleBit  = 1 << 0
	typeShift = 10
	typeMask  = 0x3F << typeShift
)

// TRB is the generic 16-byte Transfer Request Block.
type TRB struct {
	Parameter uint64
	Status    uint32
	Control   uint32
}

// Cycle returns the cycle bit.
func (t TRB) Cycle() bool {
	return t.Control&cycleBit != 0
}

// SetCycle sets or clears the cycle bit.
func (t *TRB) SetCycle(c bool) {
	if c {
		t.Control |= cycleBit
	} else {
		t.Control &^= cycleBit
	}
}

// Type returns the TRB type field.
func (t TRB) Type() Type {
	return Type((t.Control & typeMask) >> typeShift)
}

// SetType replaces the TRB type field.
func (t *TRB) SetType(typ Type) {
	t.Control = t.Control&^typeMask | uint32(typ)<<typeShift&typeMask
}

// String implements fmt.Stringer.
func (t TRB) String() string {
	return fmt.Sprintf("%s{param=%#x status=%#x control=%#x}", t.Type(), t.Parameter, t.Status, t.Control)
}

// Parse decodes a TRB from b. Returns false if b is too short.
func Parse(b []byte, t *TRB) bool {
	if len(b) < Size {
		return false
	}
	t.Parameter = binary.LittleEndian.Uint64(b[0:8])
	t.Status = binary.LittleEndian.Uint32(b[8:12])
	t.Control = binary.LittleEndian.Uint32(b[12:16])
	return true
}

// MarshalTo encodes t into b and returns the number of bytes written,
// or 0 if b is too short.
func (t TRB) MarshalTo(b []byte) int {
	if len(b) < Size {
		return 0
	}
	binary.LittleEndian.PutUint64(b[0:8], t.Parameter)
	binary.LittleEndian.PutUint32(b[8:12], t.Status)
	binary.LittleEndian.PutUint32(b[12:16], t.Control)
	return Size
}

// Bytes returns the 16-byte encoding of t.
func (t TRB) Bytes() [Size]byte {
	var b [Size]byte
	t.MarshalTo(b[:])
	return b
}

// WrongTypeError is returned when a typed view is requested on a TRB whose
// type field does not match.
type WrongTypeError struct {
	Want Type
	Got  Type
}

func (e *WrongTypeError) Error() string {
	return fmt.Sprintf("%s: want %s, got %s (%d)", pkg.ErrWrongType, e.Want, e.Got, uint8(e.Got))
}

// Is reports whether target is pkg.ErrWrongType.
func (e *WrongTypeError) Is(target error) bool {
	return target == pkg.ErrWrongType
}

func checkType(t TRB, want Type) error {
	if got := t.Type(); got != want {
		return &WrongTypeError{Want: want, Got: got}
	}
	return nil
}
