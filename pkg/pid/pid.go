// Package pid turns a line deviation into a correction magnitude.
package pid

import (
	"fmt"
	"time"

	"github.com/felixge/pidctrl"
)

// Corrector converts a signed error into an unsigned correction.
// The caller picks the direction from the sign of the error.
type Corrector interface {
	Correct(err int) int
}

// Classic is the heading controller used on the robot. The integral
// accumulates every call without a windup guard and there is no reset:
// one instance lives for the whole run.
type Classic struct {
	KP, KI, KD float64

	p, i, d int
	lastErr int
}

// NewClassic returns a controller with the given gains.
func NewClassic(kp, ki, kd float64) *Classic {
	return &Classic{KP: kp, KI: ki, KD: kd}
}

// Correct returns |P + kI*I + D| for err. P and D are truncated to
// integers each tick.
func (c *Classic) Correct(err int) int {
	c.p = int(c.KP * float64(err))
	c.i += err
	c.d = int(c.KD * float64(err-c.lastErr))
	result := int(float64(c.p) + c.KI*float64(c.i) + float64(c.d))

	c.lastErr = err

	if result < 0 {
		return -result
	}
	return result
}

func (c *Classic) String() string {
	return fmt.Sprintf("P:%d I:%d D:%d last:%d", c.p, c.i, c.d, c.lastErr)
}

// Bounded is an opt-in corrected controller: output is limited to
// [-limit, limit] and the integral cannot grow past it.
type Bounded struct {
	ctrl *pidctrl.PIDController
	tick time.Duration
}

// NewBounded returns a bounded controller. tick is the nominal control
// period used to scale the integral and derivative terms.
func NewBounded(kp, ki, kd, limit float64, tick time.Duration) *Bounded {
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	ctrl := pidctrl.NewPIDController(kp, ki, kd).
		SetOutputLimits(-limit, limit).
		Set(0)
	return &Bounded{ctrl: ctrl, tick: tick}
}

// Correct implements Corrector.
func (b *Bounded) Correct(err int) int {
	// pidctrl works on setpoint - value; feeding -err keeps the sign of err.
	out := int(b.ctrl.UpdateDuration(float64(-err), b.tick))
	if out < 0 {
		return -out
	}
	return out
}
