// Package hw defines the hardware boundary used by the line follower.
//
// Everything the robot touches in the physical world goes through one of
// these interfaces: the photodetector array, the motor driver, the servo
// holding the sensor array and the clock used for settle waits.
package hw

import (
	"context"
	"time"
)

// MaxDuty is the largest duty cycle a motor driver accepts.
const MaxDuty = 255

// LineReader reads the binary state of one line sensor.
// true means the sensor is over the line.
type LineReader interface {
	ReadLine(ctx context.Context, sensor int) (bool, error)
}

// MotorDriver writes duty cycle and polarity to one of the four actuator slots.
type MotorDriver interface {
	WriteDuty(ctx context.Context, actuator int, duty uint8) error
	WritePolarity(ctx context.Context, actuator int, high bool) error
}

// Mount is the servo that sweeps the sensor array.
type Mount interface {
	WriteAngle(ctx context.Context, degrees int) error
}

// Clock blocks for settle waits. Sleep is not cancellable: actuated
// hardware must settle before the next sample is trusted.
type Clock interface {
	Sleep(d time.Duration)
}

// WallClock sleeps in real time.
type WallClock struct{}

// Sleep blocks for d.
func (WallClock) Sleep(d time.Duration) {
	time.Sleep(d)
}

// Saturate clamps v into the duty cycle range.
func Saturate(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > MaxDuty {
		return MaxDuty
	}
	return uint8(v)
}

// MotorPins are the driver pins of one actuator.
type MotorPins struct {
	PWM int `json:"pwm"`
	Dir int `json:"dir"`
}

// Pins is the wiring of a GPIO-style backend.
type Pins struct {
	Sensors []int        `json:"sensors"`
	Motors  [4]MotorPins `json:"motors"`
	Servo   int          `json:"servo,omitempty"`
}
