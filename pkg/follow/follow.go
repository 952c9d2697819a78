// Package follow runs the line following control loop.
package follow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gwillem/linebot/pkg/drive"
	"github.com/gwillem/linebot/pkg/hw"
	"github.com/gwillem/linebot/pkg/line"
	"github.com/gwillem/linebot/pkg/pid"
	"github.com/gwillem/linebot/pkg/robot"
)

// DefaultHz is the loop rate when none is configured.
const DefaultHz = 100

// State is the outcome of one control tick.
type State struct {
	Deviation  int             `json:"deviation"`
	Correction int             `json:"correction"`
	OnLine     int             `json:"on_line"`
	Sensors    []bool          `json:"sensors"`
	Turn       bool            `json:"turn"`
	Cross      bool            `json:"cross"`
	Direction  drive.Direction `json:"direction"`
	Duty       uint8           `json:"duty"`
	Angle      int             `json:"angle"`
	Timestamp  time.Time       `json:"timestamp"`
	Error      error           `json:"-"`
}

// Publisher receives run events, typically a telemetry hub.
type Publisher interface {
	Publish(kind string, data any)
}

// Config holds configuration for the controller.
type Config struct {
	Cruise     uint8 // forward duty while centred
	MaxDuty    int   // cap on the correction duty
	Hz         int
	TurnSettle time.Duration
	ClearTime  time.Duration
	ClearDuty  uint8
	Publisher  Publisher
}

// ConfigFrom takes the loop settings from a robot configuration.
func ConfigFrom(cfg *robot.Config) Config {
	return Config{
		Cruise:     hw.Saturate(cfg.Cruise),
		MaxDuty:    cfg.MaxDuty,
		Hz:         cfg.Hz,
		TurnSettle: cfg.TurnSettle(),
		ClearTime:  cfg.ClearTime(),
		ClearDuty:  hw.Saturate(cfg.ClearDuty),
	}
}

// Controller owns the robot for the duration of a run. Its methods must be
// called from a single goroutine; only States and Logs are safe to read
// concurrently.
type Controller struct {
	sensors *line.Array
	drive   *drive.Drive
	heading pid.Corrector
	clock   hw.Clock
	cfg     Config

	mu      sync.RWMutex
	state   State
	running bool
	stateCh chan State
	logCh   chan string
}

// NewController creates a controller for an assembled robot.
func NewController(r *robot.Robot, cfg Config) *Controller {
	if cfg.Hz <= 0 {
		cfg.Hz = DefaultHz
	}
	cfg.Hz = min(cfg.Hz, robot.MaxHz)
	if cfg.MaxDuty <= 0 || cfg.MaxDuty > hw.MaxDuty {
		cfg.MaxDuty = hw.MaxDuty
	}
	clock := r.Clock
	if clock == nil {
		clock = hw.WallClock{}
	}
	return &Controller{
		sensors: r.Sensors,
		drive:   r.Drive,
		heading: r.Heading,
		clock:   clock,
		cfg:     cfg,
		stateCh: make(chan State, 1),
		logCh:   make(chan string, 10),
	}
}

// States returns a channel that receives state updates.
func (c *Controller) States() <-chan State {
	return c.stateCh
}

// Logs returns a channel that receives log messages.
func (c *Controller) Logs() <-chan string {
	return c.logCh
}

// Hz returns the control frequency.
func (c *Controller) Hz() int {
	return c.cfg.Hz
}

// State returns the latest tick.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) log(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case c.logCh <- msg:
	default:
		// Drop if channel full
	}
	c.publish("log", msg)
}

func (c *Controller) publish(kind string, data any) {
	if c.cfg.Publisher != nil {
		c.cfg.Publisher.Publish(kind, data)
	}
}

// Step samples the array, corrects the heading and issues one move. A
// positive deviation steers left, a negative one steers right, both in
// adjust mode; a centred reading drives forward at cruise duty.
func (c *Controller) Step(ctx context.Context) (State, error) {
	dev, onLine, err := c.sensors.Sample(ctx)
	if err != nil {
		return c.fail(fmt.Errorf("sample: %w", err))
	}

	s := State{
		Deviation: dev,
		OnLine:    onLine,
		Sensors:   c.sensors.States(),
		Turn:      c.sensors.IsAtTurn(),
		Cross:     c.sensors.IsAtCrossSection(),
		Angle:     c.sensors.Angle(),
	}
	s.Correction = c.heading.Correct(dev)

	switch {
	case dev > 0:
		s.Direction = drive.StrafeLeft
		s.Duty = hw.Saturate(min(s.Correction, c.cfg.MaxDuty))
		err = c.drive.Move(ctx, s.Direction, s.Duty, true)
	case dev < 0:
		s.Direction = drive.StrafeRight
		s.Duty = hw.Saturate(min(s.Correction, c.cfg.MaxDuty))
		err = c.drive.Move(ctx, s.Direction, s.Duty, true)
	default:
		s.Direction = drive.Forward
		s.Duty = c.cfg.Cruise
		err = c.drive.Move(ctx, s.Direction, s.Duty, false)
	}
	if err != nil {
		return c.fail(fmt.Errorf("move %s: %w", s.Direction, err))
	}

	s.Timestamp = time.Now()
	c.sendState(s)
	return s, nil
}

func (c *Controller) fail(err error) (State, error) {
	c.log("Error: %v", err)
	s := State{Error: err, Timestamp: time.Now()}
	c.sendState(s)
	return s, err
}

// FollowToCrossSection steps at the configured rate until the array
// reports a cross-section, then stops the drive.
func (c *Controller) FollowToCrossSection(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(c.cfg.Hz))
	defer ticker.Stop()

	for {
		s, err := c.Step(ctx)
		if err != nil {
			return err
		}
		if s.Cross {
			c.log("Cross-section reached")
			c.publish("cross", s)
			return c.drive.Stop(ctx)
		}

		select {
		case <-ctx.Done():
			if err := c.drive.Stop(context.Background()); err != nil {
				c.log("Warning: failed to stop drive: %v", err)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Turn changes the logical heading. The drive frame and the sensor array
// turn together; a reset only restores the drive frame.
func (c *Controller) Turn(ctx context.Context, h drive.Heading) error {
	if err := c.drive.Turn(ctx, h); err != nil {
		return fmt.Errorf("turn %s: %w", h, err)
	}

	var r line.Reorientation
	switch h {
	case drive.HeadingLeft:
		r = line.ReorientLeft
	case drive.HeadingRight:
		r = line.ReorientRight
	case drive.HeadingBack:
		r = line.ReorientReverse
	}
	if r != 0 {
		if err := c.sensors.Reorient(ctx, r); err != nil {
			return fmt.Errorf("turn %s: %w", h, err)
		}
	}

	c.log("Turned %s (frame %v, mount %d°, %s)", h, c.drive.Frame(), c.sensors.Angle(), c.sensors.Parity())
	c.publish("turn", h.String())
	if c.cfg.TurnSettle > 0 {
		c.clock.Sleep(c.cfg.TurnSettle)
	}
	return nil
}

// Clear drives forward off the current cross-section.
func (c *Controller) Clear(ctx context.Context) error {
	if c.cfg.ClearTime <= 0 {
		return nil
	}
	if err := c.drive.Move(ctx, drive.Forward, c.cfg.ClearDuty, false); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	c.clock.Sleep(c.cfg.ClearTime)
	return nil
}

// Run executes a route. Following a step with a count of n leaves the
// current cross-section and stops at the n-th one after it. The drive is
// stopped when the route ends or fails.
func (c *Controller) Run(ctx context.Context, route []robot.RouteStep) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("already running")
	}
	c.running = true
	c.mu.Unlock()
	defer c.shutdown()

	c.log("Route started at %d Hz (%d steps)", c.cfg.Hz, len(route))
	c.publish("start", route)

	for i, step := range route {
		c.log("Step %d: %s", i+1, step)
		if err := c.runStep(ctx, step); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step, err)
		}
	}
	c.log("Route finished")
	c.publish("finish", len(route))
	return nil
}

func (c *Controller) runStep(ctx context.Context, step robot.RouteStep) error {
	if step.Turn != "" {
		h, ok := drive.ParseHeading(step.Turn)
		if !ok {
			c.log("Ignoring unknown heading %q", step.Turn)
			return nil
		}
		return c.Turn(ctx, h)
	}
	for range step.Follow {
		if err := c.Clear(ctx); err != nil {
			return err
		}
		if err := c.FollowToCrossSection(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) sendState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()

	c.publish("step", s)
	select {
	case c.stateCh <- s:
	default:
		// Drop old state if channel full, replace with new
		select {
		case <-c.stateCh:
		default:
		}
		select {
		case c.stateCh <- s:
		default:
		}
	}
}

func (c *Controller) shutdown() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	if err := c.drive.Stop(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
		c.log("Warning: failed to stop drive: %v", err)
	} else {
		c.log("Drive stopped")
	}
}
