// Package drive maps logical movement commands onto four actuators under
// a frame of reference that can be rotated at any time.
package drive

import (
	"context"
	"fmt"

	"github.com/gwillem/linebot/pkg/hw"
)

// Direction is a logical movement command.
type Direction int

const (
	Forward Direction = iota + 1
	Backward
	StrafeLeft
	StrafeRight
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	case StrafeLeft:
		return "left"
	case StrafeRight:
		return "right"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// MarshalText encodes d by name. The zero Direction encodes as "".
func (d Direction) MarshalText() ([]byte, error) {
	if d == 0 {
		return []byte{}, nil
	}
	return []byte(d.String()), nil
}

// Valid reports whether d is one of the four commands.
func (d Direction) Valid() bool {
	return d >= Forward && d <= StrafeRight
}

// ParseDirection accepts full names and the single letters f, b, l, r.
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "f", "forward":
		return Forward, true
	case "b", "backward":
		return Backward, true
	case "l", "left":
		return StrafeLeft, true
	case "r", "right":
		return StrafeRight, true
	}
	return 0, false
}

// Drive is the reorientable drivetrain.
type Drive struct {
	driver   hw.MotorDriver
	geometry *Geometry

	frame    Frame
	polarity [NumRoles]bool // asserted polarity per physical slot
	last     Direction
}

// New creates a drive for geometry g and asserts the polarity of the
// identity frame on every actuator.
func New(ctx context.Context, driver hw.MotorDriver, g *Geometry) (*Drive, error) {
	d := &Drive{
		driver:   driver,
		geometry: g,
		frame:    Identity(),
		last:     Forward,
	}
	if err := d.assertPolarity(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// Geometry returns the drivetrain layout.
func (d *Drive) Geometry() *Geometry {
	return d.geometry
}

// Frame returns the current role to actuator mapping.
func (d *Drive) Frame() Frame {
	return d.frame
}

// Polarity returns the asserted polarity of every physical slot.
func (d *Drive) Polarity() [NumRoles]bool {
	return d.polarity
}

// LastCommand returns the most recent direction passed to Move.
func (d *Drive) LastCommand() Direction {
	return d.last
}

// Move drives in direction dir at the given duty cycle. When adjust is
// set, actuators outside the requested axis keep their duty so a
// steering correction blends with ongoing travel. Unknown directions are
// ignored.
func (d *Drive) Move(ctx context.Context, dir Direction, duty uint8, adjust bool) error {
	if !dir.Valid() {
		return nil
	}

	if dir != d.last {
		if err := d.flip(ctx, dir); err != nil {
			return err
		}
	}

	act := d.geometry.Activate(dir, adjust)
	for _, r := range act.Idle {
		if err := d.writeDuty(ctx, r, 0); err != nil {
			return err
		}
	}
	for _, r := range act.Drive {
		if err := d.writeDuty(ctx, r, duty); err != nil {
			return err
		}
	}

	d.last = dir
	return nil
}

// Turn reassigns the logical roles to actuators. Left and right rotate
// the roles one position, back swaps front with back and left with right,
// reset and front restore the construction-time mapping. Every polarity
// is then recomputed from the new frame and the next Move starts from
// Forward. Unknown headings are ignored.
func (d *Drive) Turn(ctx context.Context, h Heading) error {
	switch h {
	case HeadingReset, HeadingFront:
		d.frame = Identity()
	default:
		p, ok := d.geometry.Turns[h]
		if !ok {
			return nil
		}
		d.frame = d.frame.Apply(p)
	}

	d.last = Forward
	return d.assertPolarity(ctx)
}

// Stop zeroes the duty cycle of every actuator.
func (d *Drive) Stop(ctx context.Context) error {
	for slot := range NumRoles {
		if err := d.driver.WriteDuty(ctx, slot, 0); err != nil {
			return fmt.Errorf("stop actuator %d: %w", slot, err)
		}
	}
	return nil
}

// StopAxis zeroes the duty cycle of one of the geometry's two axis pairs.
func (d *Drive) StopAxis(ctx context.Context, axis int) error {
	if axis < 0 || axis >= len(d.geometry.Axes) {
		return nil
	}
	for _, r := range d.geometry.Axes[axis] {
		if err := d.writeDuty(ctx, r, 0); err != nil {
			return err
		}
	}
	return nil
}

// flip inverts the polarity of every actuator whose bit differs between
// the previous command and dir.
func (d *Drive) flip(ctx context.Context, dir Direction) error {
	want := d.geometry.polarity(d.frame, dir)
	for r, high := range want {
		slot := d.frame.Slot(Role(r))
		if d.polarity[slot] == high {
			continue
		}
		if err := d.writePolarity(ctx, slot, high); err != nil {
			return err
		}
	}
	return nil
}

// assertPolarity writes the forward polarity of the current frame to
// every actuator.
func (d *Drive) assertPolarity(ctx context.Context) error {
	want := d.geometry.polarity(d.frame, Forward)
	for r, high := range want {
		if err := d.writePolarity(ctx, d.frame.Slot(Role(r)), high); err != nil {
			return err
		}
	}
	return nil
}

func (d *Drive) writePolarity(ctx context.Context, slot int, high bool) error {
	if err := d.driver.WritePolarity(ctx, slot, high); err != nil {
		return fmt.Errorf("polarity actuator %d: %w", slot, err)
	}
	d.polarity[slot] = high
	return nil
}

func (d *Drive) writeDuty(ctx context.Context, r Role, duty uint8) error {
	slot := d.frame.Slot(r)
	if err := d.driver.WriteDuty(ctx, slot, duty); err != nil {
		return fmt.Errorf("duty actuator %d (%s): %w", slot, d.geometry.Roles[r], err)
	}
	return nil
}
