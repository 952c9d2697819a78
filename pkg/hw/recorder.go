package hw

import (
	"context"
	"sync"
	"time"
)

// Write is one recorded motor driver call.
type Write struct {
	Actuator int
	Polarity bool // true for a polarity write, false for a duty write
	Duty     uint8
	High     bool
}

// Recorder is an in-memory implementation of every boundary interface.
// Line states are set by the caller; motor, mount and clock calls are
// recorded so their effect can be inspected.
type Recorder struct {
	mu       sync.Mutex
	lines    []bool
	duty     [4]uint8
	polarity [4]bool
	writes   []Write
	angles   []int
	sleeps   []time.Duration
}

// NewRecorder returns a recorder with n line sensors, all off the line.
func NewRecorder(n int) *Recorder {
	return &Recorder{lines: make([]bool, n)}
}

// SetLines replaces the sensor states.
func (r *Recorder) SetLines(states ...bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines[:0], states...)
}

// ReadLine implements LineReader.
func (r *Recorder) ReadLine(_ context.Context, sensor int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sensor < 0 || sensor >= len(r.lines) {
		return false, nil
	}
	return r.lines[sensor], nil
}

// WriteDuty implements MotorDriver.
func (r *Recorder) WriteDuty(_ context.Context, actuator int, duty uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.duty[actuator] = duty
	r.writes = append(r.writes, Write{Actuator: actuator, Duty: duty})
	return nil
}

// WritePolarity implements MotorDriver.
func (r *Recorder) WritePolarity(_ context.Context, actuator int, high bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polarity[actuator] = high
	r.writes = append(r.writes, Write{Actuator: actuator, Polarity: true, High: high})
	return nil
}

// WriteAngle implements Mount.
func (r *Recorder) WriteAngle(_ context.Context, degrees int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.angles = append(r.angles, degrees)
	return nil
}

// Sleep implements Clock without blocking.
func (r *Recorder) Sleep(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeps = append(r.sleeps, d)
}

// Duty returns the last duty written to each actuator.
func (r *Recorder) Duty() [4]uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.duty
}

// Polarity returns the last polarity written to each actuator.
func (r *Recorder) Polarity() [4]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.polarity
}

// Writes returns and clears the recorded motor driver calls.
func (r *Recorder) Writes() []Write {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.writes
	r.writes = nil
	return w
}

// Angles returns every mount angle written so far.
func (r *Recorder) Angles() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.angles...)
}

// Sleeps returns every settle wait requested so far.
func (r *Recorder) Sleeps() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.sleeps...)
}
