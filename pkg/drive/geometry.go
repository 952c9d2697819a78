package drive

import (
	"errors"
	"fmt"
)

// ErrUnknownGeometry is returned by GeometryByName.
var ErrUnknownGeometry = errors.New("drive: unknown geometry")

// Activation lists the roles a command drives and the roles it zeroes.
type Activation struct {
	Drive []Role
	Idle  []Role
}

// Geometry describes one drivetrain layout. Every layout shares the
// Drive contract; only these tables differ.
type Geometry struct {
	Name  string
	Roles [NumRoles]string

	// Turns maps each heading to the permutation it applies.
	// HeadingReset and HeadingFront restore Identity and are not listed.
	Turns map[Heading]Permutation

	// Base is the polarity of every role while moving forward, indexed
	// by the slot currently driving role 0.
	Base [NumRoles][NumRoles]bool

	// Reversed lists the roles whose polarity is inverted for a command.
	Reversed map[Direction][]Role

	// Axes are the two role pairs that can be stopped together.
	Axes [2][2]Role

	activate func(d Direction, adjust bool) Activation
}

// Activate returns the roles to drive and to zero for d.
func (g *Geometry) Activate(d Direction, adjust bool) Activation {
	return g.activate(d, adjust)
}

var (
	turnLeft  = Permutation{3, 0, 1, 2}
	turnRight = Permutation{1, 2, 3, 0}
	turnBack  = Permutation{2, 3, 0, 1}
)

// Orthogonal is a square chassis with one omni wheel on each side. The
// side wheels carry forward/backward travel, the front and back wheels
// carry strafing.
var Orthogonal = &Geometry{
	Name:  "orthogonal",
	Roles: [NumRoles]string{"front", "right", "back", "left"},
	Turns: map[Heading]Permutation{
		HeadingLeft:  turnLeft,
		HeadingRight: turnRight,
		HeadingBack:  turnBack,
	},
	// role order: front, right, back, left
	Base: [NumRoles][NumRoles]bool{
		{false, false, false, false},
		{false, true, false, true},
		{true, true, true, true},
		{true, false, true, false},
	},
	Reversed: map[Direction][]Role{
		Backward:    {Left, Right},
		StrafeRight: {Front, Back},
	},
	Axes: [2][2]Role{{Front, Back}, {Left, Right}},
	activate: func(d Direction, adjust bool) Activation {
		switch d {
		case Forward, Backward:
			return Activation{Drive: []Role{Left, Right}, Idle: []Role{Front, Back}}
		case StrafeLeft, StrafeRight:
			a := Activation{Drive: []Role{Front, Back}}
			if !adjust {
				a.Idle = []Role{Left, Right}
			}
			return a
		}
		return Activation{}
	},
}

// Diagonal is a mecanum chassis with a wheel at each corner. Strafing
// reverses one diagonal pair; in adjust mode only the other pair drives.
var Diagonal = &Geometry{
	Name:  "diagonal",
	Roles: [NumRoles]string{"front-left", "front-right", "back-right", "back-left"},
	Turns: map[Heading]Permutation{
		HeadingLeft:  turnLeft,
		HeadingRight: turnRight,
		HeadingBack:  turnBack,
	},
	// role order: front-left, front-right, back-right, back-left.
	// Wheels are mounted mirrored, so the roles keep the same polarity
	// whichever corner drives them.
	Base: [NumRoles][NumRoles]bool{
		{false, true, true, false},
		{false, true, true, false},
		{false, true, true, false},
		{false, true, true, false},
	},
	Reversed: map[Direction][]Role{
		Backward:    {FrontLeft, FrontRight, BackRight, BackLeft},
		StrafeLeft:  {FrontLeft, BackRight},
		StrafeRight: {FrontRight, BackLeft},
	},
	Axes: [2][2]Role{{FrontLeft, BackRight}, {FrontRight, BackLeft}},
	activate: func(d Direction, adjust bool) Activation {
		all := []Role{FrontLeft, FrontRight, BackRight, BackLeft}
		switch d {
		case Forward, Backward:
			return Activation{Drive: all}
		case StrafeLeft:
			if adjust {
				return Activation{Drive: []Role{FrontRight, BackLeft}, Idle: []Role{FrontLeft, BackRight}}
			}
			return Activation{Drive: all}
		case StrafeRight:
			if adjust {
				return Activation{Drive: []Role{FrontLeft, BackRight}, Idle: []Role{FrontRight, BackLeft}}
			}
			return Activation{Drive: all}
		}
		return Activation{}
	},
}

// GeometryByName looks up a layout by its config name.
func GeometryByName(name string) (*Geometry, error) {
	switch name {
	case "", Orthogonal.Name:
		return Orthogonal, nil
	case Diagonal.Name:
		return Diagonal, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownGeometry, name)
}

// polarity returns the polarity every role should carry under frame f
// for command d.
func (g *Geometry) polarity(f Frame, d Direction) [NumRoles]bool {
	p := g.Base[f.Slot(0)]
	for _, r := range g.Reversed[d] {
		p[r] = !p[r]
	}
	return p
}
