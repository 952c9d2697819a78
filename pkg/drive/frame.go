package drive

import "fmt"

// Role is a logical wheel position. Its meaning depends on the geometry:
// Front, Right, Back, Left for the orthogonal layout and FrontLeft,
// FrontRight, BackRight, BackLeft for the diagonal one.
type Role int

// NumRoles is the number of logical roles and physical actuator slots.
const NumRoles = 4

// Orthogonal roles.
const (
	Front Role = iota
	Right
	Back
	Left
)

// Diagonal roles.
const (
	FrontLeft Role = iota
	FrontRight
	BackRight
	BackLeft
)

// Heading is a turn request.
type Heading int

const (
	HeadingReset Heading = iota + 1
	HeadingFront
	HeadingBack
	HeadingLeft
	HeadingRight
)

func (h Heading) String() string {
	switch h {
	case HeadingReset:
		return "reset"
	case HeadingFront:
		return "front"
	case HeadingBack:
		return "back"
	case HeadingLeft:
		return "left"
	case HeadingRight:
		return "right"
	}
	return fmt.Sprintf("Heading(%d)", int(h))
}

// ParseHeading accepts full names and the single letters f, b, l, r.
func ParseHeading(s string) (Heading, bool) {
	switch s {
	case "reset":
		return HeadingReset, true
	case "f", "front":
		return HeadingFront, true
	case "b", "back":
		return HeadingBack, true
	case "l", "left":
		return HeadingLeft, true
	case "r", "right":
		return HeadingRight, true
	}
	return 0, false
}

// Permutation maps each role of the new frame to the role of the old
// frame whose actuator it takes over.
type Permutation [NumRoles]Role

// Frame assigns a physical actuator slot to every logical role.
// It is always a bijection.
type Frame [NumRoles]int

// Identity is the construction-time frame: role i drives slot i.
func Identity() Frame {
	return Frame{0, 1, 2, 3}
}

// Apply returns the frame after a turn described by p.
func (f Frame) Apply(p Permutation) Frame {
	var next Frame
	for r, src := range p {
		next[r] = f[src]
	}
	return next
}

// Slot returns the actuator driven by role r.
func (f Frame) Slot(r Role) int {
	return f[r]
}

// Valid reports whether f is a bijection between roles and slots.
func (f Frame) Valid() bool {
	var seen [NumRoles]bool
	for _, s := range f {
		if s < 0 || s >= NumRoles || seen[s] {
			return false
		}
		seen[s] = true
	}
	return true
}
