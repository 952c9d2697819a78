// Package line reads a row of binary line sensors and classifies what
// the robot is driving over.
package line

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/gwillem/linebot/pkg/hw"
)

// MinSensors is the smallest array that keeps turn and cross-section
// classifications apart.
const MinSensors = 3

// DefaultSettle is the wait after a physical sweep of the mount.
const DefaultSettle = 500 * time.Millisecond

// DefaultCenter is the mount angle the array starts at.
const DefaultCenter = 90

// ErrTooFewSensors is returned for arrays smaller than MinSensors.
var ErrTooFewSensors = errors.New("line: too few sensors")

// Sensor is one photodetector and the weight it contributes when off the line.
type Sensor struct {
	Index  int
	Weight int
}

// Reorientation is a change of the array's frame.
type Reorientation int

const (
	ReorientLeft Reorientation = iota + 1
	ReorientRight
	ReorientReverse
)

func (r Reorientation) String() string {
	switch r {
	case ReorientLeft:
		return "left"
	case ReorientRight:
		return "right"
	case ReorientReverse:
		return "reverse"
	}
	return fmt.Sprintf("Reorientation(%d)", int(r))
}

// Options configures an Array.
type Options struct {
	Sensors int
	Settle  time.Duration // wait after a mount sweep
	Center  int           // initial mount angle in degrees
	Clock   hw.Clock
}

// Array is the line sensor array mounted on a sweeping servo.
type Array struct {
	reader hw.LineReader
	mount  hw.Mount
	clock  hw.Clock
	settle time.Duration

	sensors []Sensor
	states  []bool // readings from the latest Sample
	onLine  int
	sampled bool
	parity  Parity
	angle   int
}

// Weights returns the weight sequence for n sensors: consecutive
// integers centered on zero, with two zero-weighted sensors in the
// middle when n is even.
func Weights(n int) []int {
	w := make([]int, n)
	even := n%2 == 0
	v := -(n / 2)
	if even {
		v = -(n/2 - 1)
	}
	for i := range w {
		if even && i == n/2 {
			v--
		}
		w[i] = v
		v++
	}
	return w
}

// NewArray creates an array reading from r and sweeping with m.
func NewArray(r hw.LineReader, m hw.Mount, opts Options) (*Array, error) {
	if opts.Sensors < MinSensors {
		return nil, fmt.Errorf("%w: %d", ErrTooFewSensors, opts.Sensors)
	}
	if opts.Clock == nil {
		opts.Clock = hw.WallClock{}
	}
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	if opts.Center == 0 {
		opts.Center = DefaultCenter
	}

	sensors := make([]Sensor, opts.Sensors)
	for i, w := range Weights(opts.Sensors) {
		sensors[i] = Sensor{Index: i, Weight: w}
	}

	return &Array{
		reader:  r,
		mount:   m,
		clock:   opts.Clock,
		settle:  opts.Settle,
		sensors: sensors,
		states:  make([]bool, opts.Sensors),
		angle:   opts.Center,
	}, nil
}

// Center writes the initial mount angle.
func (a *Array) Center(ctx context.Context) error {
	if err := a.mount.WriteAngle(ctx, a.angle); err != nil {
		return fmt.Errorf("center mount: %w", err)
	}
	return nil
}

// Len returns the number of sensors.
func (a *Array) Len() int {
	return len(a.sensors)
}

// Sensors returns a copy of the current sensor weights.
func (a *Array) Sensors() []Sensor {
	return slices.Clone(a.sensors)
}

// States returns the readings from the latest Sample.
func (a *Array) States() []bool {
	return slices.Clone(a.states)
}

// Parity returns the reversal parity.
func (a *Array) Parity() Parity {
	return a.parity
}

// Angle returns the last commanded mount angle.
func (a *Array) Angle() int {
	return a.angle
}

// Sample reads every sensor. deviation is the sum of the weights of
// sensors off the line; onLine counts sensors on the line. The reading is
// kept for IsAtTurn and IsAtCrossSection.
func (a *Array) Sample(ctx context.Context) (deviation, onLine int, err error) {
	for i, s := range a.sensors {
		on, err := a.reader.ReadLine(ctx, s.Index)
		if err != nil {
			return 0, 0, fmt.Errorf("read sensor %d: %w", s.Index, err)
		}
		a.states[i] = on
		if on {
			onLine++
		} else {
			deviation += s.Weight
		}
	}
	a.onLine = onLine
	a.sampled = true
	return deviation, onLine, nil
}

// IsAtTurn reports whether the latest sample looks like a right-angled
// turn: the run of off-line sensors ending at the last sensor is at least
// ceil(n/2)-1 long but does not cover the whole array.
func (a *Array) IsAtTurn() bool {
	if !a.sampled {
		return false
	}
	n := len(a.sensors)
	run := 0
	for _, on := range a.states {
		if on {
			run = 0
		} else {
			run++
		}
	}
	threshold := max((n+1)/2-1, 1)
	return run >= threshold && run < n
}

// IsAtCrossSection reports whether every sensor was on the line in the
// latest sample.
func (a *Array) IsAtCrossSection() bool {
	return a.sampled && a.onLine == len(a.sensors)
}

// Reorient changes the array's frame. Left and right sweep the mount by
// 90 degrees, with the sign inverted while the array is reversed. Reverse
// leaves the mount alone and mirrors the weights instead. Unknown values
// are ignored.
func (a *Array) Reorient(ctx context.Context, r Reorientation) error {
	var delta int
	switch r {
	case ReorientLeft:
		delta = 90 * a.parity.Sign()
	case ReorientRight:
		delta = -90 * a.parity.Sign()
	case ReorientReverse:
		a.reverse()
		return nil
	default:
		return nil
	}

	angle := a.angle + delta
	if err := a.mount.WriteAngle(ctx, angle); err != nil {
		return fmt.Errorf("sweep mount %s: %w", r, err)
	}
	a.angle = angle
	a.clock.Sleep(a.settle)
	return nil
}

func (a *Array) reverse() {
	n := len(a.sensors)
	for i := range n / 2 {
		j := n - 1 - i
		a.sensors[i].Weight, a.sensors[j].Weight = a.sensors[j].Weight, a.sensors[i].Weight
	}
	a.parity = a.parity.Flip()
}
