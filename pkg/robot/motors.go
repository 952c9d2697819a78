// Package robot assembles the line follower from its configuration.
package robot

import "github.com/gwillem/linebot/pkg/hw"

// DefaultPins is the wiring of the competition robot: an eight sensor
// array on pins 40-47, the mount servo on 31 and {pwm, dir} pairs for the
// front, right, back and left motors.
func DefaultPins() hw.Pins {
	return hw.Pins{
		Sensors: []int{40, 41, 42, 43, 44, 45, 46, 47},
		Motors: [4]hw.MotorPins{
			{PWM: 5, Dir: 28},
			{PWM: 2, Dir: 22},
			{PWM: 3, Dir: 24},
			{PWM: 4, Dir: 26},
		},
		Servo: 31,
	}
}
