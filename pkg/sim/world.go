// Package sim is a simulated arena for the line follower.
//
// The world holds one straight painted line with perpendicular
// cross-sections at a fixed spacing. The robot never rotates: turning is
// done by relabelling wheels, so the world re-lays the line along the
// direction the sensor mount faces each time the mount moves. Motion is
// integrated from the duty and polarity of the four actuators once per
// sensor scan and during every settle wait.
package sim

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/gwillem/linebot/pkg/hw"
)

// Layout selects the wheel kinematics.
type Layout int

const (
	// Orthogonal: slots 0 and 2 roll along x, slots 1 and 3 along y.
	Orthogonal Layout = iota
	// Mecanum: slots are front-left, front-right, back-right, back-left.
	Mecanum
)

// Options configures a World. Distances are in centimetres.
type Options struct {
	Layout        Layout
	Sensors       int
	Pitch         float64       // distance between adjacent sensors
	LineHalfWidth float64       // half the painted line width
	CrossSpacing  float64       // distance between cross-sections
	CrossHalf     float64       // half the cross-section bar width
	MaxSpeed      float64       // speed at full duty, cm/s
	Tick          time.Duration // time integrated per sensor scan
	Drift         float64       // max lateral disturbance per scan
	Seed          int64
	RealTime      bool // Sleep also blocks in wall time
}

// DefaultOptions is an eight sensor robot on a 2.5 cm line.
func DefaultOptions() Options {
	return Options{
		Layout:        Orthogonal,
		Sensors:       8,
		Pitch:         1,
		LineHalfWidth: 1.25,
		CrossSpacing:  60,
		CrossHalf:     1.5,
		MaxSpeed:      50,
		Tick:          10 * time.Millisecond,
		Drift:         0.02,
		Seed:          1,
	}
}

// World implements every hw interface against a simulated arena.
type World struct {
	mu   sync.Mutex
	opts Options
	rnd  *rand.Rand

	x, y     float64 // robot position
	ox, oy   float64 // line origin
	angle    int     // mount angle, degrees; 90 faces +y
	duty     [4]uint8
	polarity [4]bool
	elapsed  time.Duration
}

// NewWorld places the robot on a cross-section facing +y.
func NewWorld(opts Options) *World {
	if opts.Sensors == 0 {
		opts = DefaultOptions()
	}
	return &World{
		opts:  opts,
		rnd:   rand.New(rand.NewSource(opts.Seed)),
		angle: 90,
	}
}

// ReadLine implements hw.LineReader. Reading sensor 0 advances the world
// by one tick.
func (w *World) ReadLine(_ context.Context, sensor int) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if sensor == 0 {
		w.advance(w.opts.Tick)
		if w.opts.Drift > 0 {
			rx, ry := w.right()
			d := (w.rnd.Float64()*2 - 1) * w.opts.Drift
			w.x += rx * d
			w.y += ry * d
		}
	}
	if sensor < 0 || sensor >= w.opts.Sensors {
		return false, nil
	}
	if w.onCross() {
		return true, nil
	}
	off := (float64(sensor) - float64(w.opts.Sensors-1)/2) * w.opts.Pitch
	return math.Abs(w.lateral()+off) <= w.opts.LineHalfWidth, nil
}

// WriteDuty implements hw.MotorDriver.
func (w *World) WriteDuty(_ context.Context, actuator int, duty uint8) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.duty[actuator] = duty
	return nil
}

// WritePolarity implements hw.MotorDriver.
func (w *World) WritePolarity(_ context.Context, actuator int, high bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.polarity[actuator] = high
	return nil
}

// WriteAngle implements hw.Mount. The next line segment is laid through
// the robot's position along the new facing.
func (w *World) WriteAngle(_ context.Context, degrees int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if degrees != w.angle {
		w.angle = degrees
		w.ox, w.oy = w.x, w.y
	}
	return nil
}

// Sleep implements hw.Clock and integrates motion over d.
func (w *World) Sleep(d time.Duration) {
	w.mu.Lock()
	w.advance(d)
	w.mu.Unlock()
	if w.opts.RealTime {
		time.Sleep(d)
	}
}

// Offset returns the signed distance from the line to the robot, measured
// along the array's right-hand side.
func (w *World) Offset() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lateral()
}

// Progress returns the distance travelled along the current line.
func (w *World) Progress() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.along()
}

// Nudge displaces the robot sideways by d.
func (w *World) Nudge(d float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rx, ry := w.right()
	w.x += rx * d
	w.y += ry * d
}

// Elapsed returns the simulated time.
func (w *World) Elapsed() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.elapsed
}

func (w *World) heading() (float64, float64) {
	a := float64(w.angle) * math.Pi / 180
	return math.Cos(a), math.Sin(a)
}

func (w *World) right() (float64, float64) {
	hx, hy := w.heading()
	return hy, -hx
}

func (w *World) lateral() float64 {
	rx, ry := w.right()
	return (w.x-w.ox)*rx + (w.y-w.oy)*ry
}

func (w *World) along() float64 {
	hx, hy := w.heading()
	return (w.x-w.ox)*hx + (w.y-w.oy)*hy
}

func (w *World) onCross() bool {
	s := w.along()
	k := math.Round(s / w.opts.CrossSpacing)
	return math.Abs(s-k*w.opts.CrossSpacing) <= w.opts.CrossHalf
}

func (w *World) advance(d time.Duration) {
	vx, vy := w.velocity()
	w.x += vx * d.Seconds()
	w.y += vy * d.Seconds()
	w.elapsed += d
}

// velocity converts actuator state into a chassis velocity in cm/s.
func (w *World) velocity() (vx, vy float64) {
	spin := func(slot int, forwardHigh bool) float64 {
		v := float64(w.duty[slot]) / hw.MaxDuty * w.opts.MaxSpeed
		if w.polarity[slot] != forwardHigh {
			return -v
		}
		return v
	}

	switch w.opts.Layout {
	case Mecanum:
		// Left wheels roll forward when low, right wheels when high.
		fl, fr := spin(0, false), spin(1, true)
		br, bl := spin(2, true), spin(3, false)
		vy = (fl + fr + br + bl) / 4
		vx = (fl - fr + br - bl) / 4
	default:
		// High drives slots 0 and 2 toward +x; low drives slots 1 and 3 toward +y.
		vx = (spin(0, true) + spin(2, true)) / 2
		vy = (spin(1, false) + spin(3, false)) / 2
	}
	return vx, vy
}
