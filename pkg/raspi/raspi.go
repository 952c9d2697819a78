// Package raspi drives the robot straight from Raspberry Pi header pins.
package raspi

import (
	"context"
	"fmt"
	"strconv"

	"gobot.io/x/gobot/drivers/gpio"
	gobotraspi "gobot.io/x/gobot/platforms/raspi"

	"github.com/gwillem/linebot/pkg/hw"
)

// Pi implements hw.LineReader, hw.MotorDriver and hw.Mount on GPIO.
type Pi struct {
	adaptor *gobotraspi.Adaptor
	sensors []*gpio.DirectPinDriver
	pwm     [4]*gpio.DirectPinDriver
	dir     [4]*gpio.DirectPinDriver
	servo   *gpio.ServoDriver
}

// Open connects to the Pi and starts a driver for every wired pin.
// A zero servo pin leaves the mount unwired.
func Open(pins hw.Pins) (*Pi, error) {
	a := gobotraspi.NewAdaptor()
	if err := a.Connect(); err != nil {
		return nil, fmt.Errorf("connect raspi: %w", err)
	}

	p := &Pi{adaptor: a}
	pin := func(n int) (*gpio.DirectPinDriver, error) {
		d := gpio.NewDirectPinDriver(a, strconv.Itoa(n))
		if err := d.Start(); err != nil {
			return nil, fmt.Errorf("start pin %d: %w", n, err)
		}
		return d, nil
	}

	for _, n := range pins.Sensors {
		d, err := pin(n)
		if err != nil {
			a.Finalize()
			return nil, err
		}
		p.sensors = append(p.sensors, d)
	}
	for i, m := range pins.Motors {
		var err error
		if p.pwm[i], err = pin(m.PWM); err != nil {
			a.Finalize()
			return nil, err
		}
		if p.dir[i], err = pin(m.Dir); err != nil {
			a.Finalize()
			return nil, err
		}
	}
	if pins.Servo != 0 {
		p.servo = gpio.NewServoDriver(a, strconv.Itoa(pins.Servo))
		if err := p.servo.Start(); err != nil {
			a.Finalize()
			return nil, fmt.Errorf("start servo pin %d: %w", pins.Servo, err)
		}
	}
	return p, nil
}

// Close releases the GPIO pins.
func (p *Pi) Close() error {
	return p.adaptor.Finalize()
}

// ReadLine implements hw.LineReader.
func (p *Pi) ReadLine(_ context.Context, sensor int) (bool, error) {
	if sensor < 0 || sensor >= len(p.sensors) {
		return false, fmt.Errorf("sensor %d not wired", sensor)
	}
	v, err := p.sensors[sensor].DigitalRead()
	if err != nil {
		return false, fmt.Errorf("read sensor %d: %w", sensor, err)
	}
	return v == 1, nil
}

// WriteDuty implements hw.MotorDriver.
func (p *Pi) WriteDuty(_ context.Context, actuator int, duty uint8) error {
	if err := p.pwm[actuator].PwmWrite(duty); err != nil {
		return fmt.Errorf("pwm actuator %d: %w", actuator, err)
	}
	return nil
}

// WritePolarity implements hw.MotorDriver.
func (p *Pi) WritePolarity(_ context.Context, actuator int, high bool) error {
	var level byte
	if high {
		level = 1
	}
	if err := p.dir[actuator].DigitalWrite(level); err != nil {
		return fmt.Errorf("dir actuator %d: %w", actuator, err)
	}
	return nil
}

// WriteAngle implements hw.Mount.
func (p *Pi) WriteAngle(_ context.Context, degrees int) error {
	if p.servo == nil {
		return fmt.Errorf("mount servo not wired")
	}
	degrees = min(max(degrees, 0), 180)
	return p.servo.Move(uint8(degrees))
}

var (
	_ hw.LineReader  = (*Pi)(nil)
	_ hw.MotorDriver = (*Pi)(nil)
	_ hw.Mount       = (*Pi)(nil)
)
