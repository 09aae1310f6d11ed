// Package regs describes the xHCI register blocks.
//
// Each register is a value type with accessors for its named bit ranges.
// Block types (Capability, Operational, Runtime, Interrupter, Doorbells)
// read and write those values through an [mmio.Window]; nothing is cached.
package regs

type word interface {
	~uint32 | ~uint64
}

func mask[T word](width uint) T {
	return T(1)<<width - 1
}

func field[T word](v T, shift, width uint) T {
	return v >> shift & mask[T](width)
}

func setField[T word](v *T, shift, width uint, x T) {
	m := mask[T](width) << shift
	*v = *v&^m | x<<shift&m
}

func bit[T word](v T, n uint) bool {
	return v>>n&1 != 0
}

func setBit[T word](v *T, n uint, on bool) {
	if on {
		*v |= T(1) << n
	} else {
		*v &^= T(1) << n
	}
}
