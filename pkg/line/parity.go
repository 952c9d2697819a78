package line

// Parity records whether the array has been reversed an odd number of times.
type Parity int

const (
	Normal Parity = iota
	Reversed
)

// Flip returns the parity after one more reversal.
func (p Parity) Flip() Parity {
	if p == Reversed {
		return Normal
	}
	return Reversed
}

// Sign is the factor applied to left/right sweep commands.
// A reversed array walks the mount back toward center instead of
// winding further in one direction.
func (p Parity) Sign() int {
	if p == Reversed {
		return -1
	}
	return 1
}

func (p Parity) String() string {
	if p == Reversed {
		return "reversed"
	}
	return "normal"
}
