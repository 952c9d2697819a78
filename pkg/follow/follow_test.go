package follow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/linebot/pkg/drive"
	"github.com/gwillem/linebot/pkg/hw"
	"github.com/gwillem/linebot/pkg/line"
	"github.com/gwillem/linebot/pkg/pid"
	"github.com/gwillem/linebot/pkg/robot"
	"github.com/gwillem/linebot/pkg/sim"
)

func testConfig() Config {
	return Config{
		Cruise:     80,
		MaxDuty:    hw.MaxDuty,
		Hz:         10000,
		TurnSettle: 200 * time.Millisecond,
		ClearTime:  300 * time.Millisecond,
		ClearDuty:  60,
	}
}

func newRig(t *testing.T, cfg Config) (*Controller, *hw.Recorder) {
	t.Helper()
	ctx := context.Background()
	rec := hw.NewRecorder(8)
	arr, err := line.NewArray(rec, rec, line.Options{Sensors: 8, Clock: rec})
	require.NoError(t, err)
	d, err := drive.New(ctx, rec, drive.Orthogonal)
	require.NoError(t, err)
	rec.Writes()

	r := &robot.Robot{
		Sensors: arr,
		Drive:   d,
		Heading: pid.NewClassic(13, 0, 5),
		Clock:   rec,
	}
	return NewController(r, cfg), rec
}

func lines(pattern string) []bool {
	out := make([]bool, len(pattern))
	for i, ch := range pattern {
		out[i] = ch == '1'
	}
	return out
}

func TestStep(t *testing.T) {
	tests := []struct {
		name      string
		pattern   string
		deviation int
		dir       drive.Direction
		duty      uint8
		slots     [4]uint8
		polarity  [4]bool
		turn      bool
		cross     bool
	}{
		{"centred", "00011000", 0, drive.Forward, 80, [4]uint8{0, 80, 0, 80}, [4]bool{}, true, false},
		{"line left", "11000000", 5, drive.StrafeLeft, 90, [4]uint8{90, 0, 90, 0}, [4]bool{}, true, false},
		{"line right", "00001100", -1, drive.StrafeRight, 18, [4]uint8{18, 0, 18, 0}, [4]bool{true, false, true, false}, false, false},
		{"only sensor 3", "00010000", 0, drive.Forward, 80, [4]uint8{0, 80, 0, 80}, [4]bool{}, true, false},
		{"cross-section", "11111111", 0, drive.Forward, 80, [4]uint8{0, 80, 0, 80}, [4]bool{}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newRig(t, testConfig())
			rec.SetLines(lines(tt.pattern)...)

			s, err := c.Step(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.deviation, s.Deviation)
			assert.Equal(t, tt.dir, s.Direction)
			assert.Equal(t, tt.duty, s.Duty)
			assert.Equal(t, tt.turn, s.Turn)
			assert.Equal(t, tt.cross, s.Cross)
			assert.Equal(t, lines(tt.pattern), s.Sensors)
			assert.Equal(t, tt.slots, rec.Duty())
			assert.Equal(t, tt.polarity, rec.Polarity())
		})
	}
}

func TestStep_AdjustKeepsForwardAxis(t *testing.T) {
	c, rec := newRig(t, testConfig())
	ctx := context.Background()

	rec.SetLines(lines("00011000")...)
	_, err := c.Step(ctx)
	require.NoError(t, err)

	rec.SetLines(lines("11000000")...)
	_, err = c.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, [4]uint8{90, 80, 90, 80}, rec.Duty())

	// Back to centre idles the strafe axis.
	rec.SetLines(lines("00011000")...)
	_, err = c.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, [4]uint8{0, 80, 0, 80}, rec.Duty())
}

func TestStep_CapsDuty(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDuty = 50
	c, rec := newRig(t, cfg)
	rec.SetLines(lines("00000001")...)

	s, err := c.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, -3, s.Deviation)
	assert.Equal(t, 54, s.Correction)
	assert.Equal(t, drive.StrafeRight, s.Direction)
	assert.Equal(t, uint8(50), s.Duty)
}

func TestStep_PublishesState(t *testing.T) {
	c, rec := newRig(t, testConfig())
	rec.SetLines(lines("11000000")...)

	s, err := c.Step(context.Background())
	require.NoError(t, err)

	select {
	case got := <-c.States():
		assert.Equal(t, s.Deviation, got.Deviation)
	default:
		t.Fatal("no state sent")
	}
	assert.Equal(t, s.Deviation, c.State().Deviation)
}

type failingReader struct{}

var errWire = errors.New("wire cut")

func (failingReader) ReadLine(context.Context, int) (bool, error) { return false, errWire }

func TestStep_SampleError(t *testing.T) {
	rec := hw.NewRecorder(8)
	arr, err := line.NewArray(failingReader{}, rec, line.Options{Sensors: 8, Clock: rec})
	require.NoError(t, err)
	d, err := drive.New(context.Background(), rec, drive.Orthogonal)
	require.NoError(t, err)
	c := NewController(&robot.Robot{Sensors: arr, Drive: d, Heading: pid.NewClassic(13, 0, 5), Clock: rec}, testConfig())

	s, err := c.Step(context.Background())
	assert.ErrorIs(t, err, errWire)
	assert.ErrorIs(t, s.Error, errWire)

	select {
	case msg := <-c.Logs():
		assert.Contains(t, msg, "wire cut")
	default:
		t.Fatal("no log line")
	}
}

func TestFollowToCrossSection_StopsAtCross(t *testing.T) {
	c, rec := newRig(t, testConfig())
	rec.SetLines(lines("11111111")...)

	require.NoError(t, c.FollowToCrossSection(context.Background()))
	assert.Equal(t, [4]uint8{}, rec.Duty())
}

func TestFollowToCrossSection_Cancel(t *testing.T) {
	c, rec := newRig(t, testConfig())
	rec.SetLines(lines("00011000")...)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.FollowToCrossSection(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, [4]uint8{}, rec.Duty())
}

// stopFails rejects zero duty writes made outside a cancellable context,
// which is how the cancel path stops the drive.
type stopFails struct {
	*hw.Recorder
	armed bool
}

var errStop = errors.New("motor bus gone")

func (s *stopFails) WriteDuty(ctx context.Context, actuator int, duty uint8) error {
	if s.armed && duty == 0 && ctx.Done() == nil {
		return errStop
	}
	return s.Recorder.WriteDuty(ctx, actuator, duty)
}

func TestFollowToCrossSection_CancelLogsStopError(t *testing.T) {
	ctx := context.Background()
	rec := hw.NewRecorder(8)
	rec.SetLines(lines("00011000")...)
	motors := &stopFails{Recorder: rec}
	arr, err := line.NewArray(rec, rec, line.Options{Sensors: 8, Clock: rec})
	require.NoError(t, err)
	d, err := drive.New(ctx, motors, drive.Orthogonal)
	require.NoError(t, err)
	c := NewController(&robot.Robot{Sensors: arr, Drive: d, Heading: pid.NewClassic(13, 0, 5), Clock: rec}, testConfig())
	motors.armed = true

	runCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err = c.FollowToCrossSection(runCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var logged []string
	for len(c.Logs()) > 0 {
		logged = append(logged, <-c.Logs())
	}
	require.NotEmpty(t, logged)
	assert.Contains(t, logged[len(logged)-1], "failed to stop drive")
	assert.Contains(t, logged[len(logged)-1], errStop.Error())
}

func TestTurn(t *testing.T) {
	tests := []struct {
		heading drive.Heading
		angles  []int
		sleeps  []time.Duration
		parity  line.Parity
		front   int
	}{
		{drive.HeadingLeft, []int{180}, []time.Duration{line.DefaultSettle, 200 * time.Millisecond}, line.Normal, 3},
		{drive.HeadingRight, []int{0}, []time.Duration{line.DefaultSettle, 200 * time.Millisecond}, line.Normal, 1},
		{drive.HeadingBack, nil, []time.Duration{200 * time.Millisecond}, line.Reversed, 2},
		{drive.HeadingReset, nil, []time.Duration{200 * time.Millisecond}, line.Normal, 0},
	}

	for _, tt := range tests {
		t.Run(tt.heading.String(), func(t *testing.T) {
			c, rec := newRig(t, testConfig())
			require.NoError(t, c.Turn(context.Background(), tt.heading))

			assert.Equal(t, tt.angles, rec.Angles())
			assert.Equal(t, tt.sleeps, rec.Sleeps())
			assert.Equal(t, tt.parity, c.sensors.Parity())
			assert.Equal(t, tt.front, c.drive.Frame().Slot(drive.Front))
			assert.Equal(t, drive.Forward, c.drive.LastCommand())
		})
	}
}

func TestTurn_BackMirrorsDeviation(t *testing.T) {
	c, rec := newRig(t, testConfig())
	ctx := context.Background()
	rec.SetLines(lines("11000000")...)

	before, err := c.Step(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Turn(ctx, drive.HeadingBack))
	after, err := c.Step(ctx)
	require.NoError(t, err)

	assert.Equal(t, -before.Deviation, after.Deviation)
	assert.Equal(t, drive.StrafeRight, after.Direction)
}

func TestClear(t *testing.T) {
	c, rec := newRig(t, testConfig())
	require.NoError(t, c.Clear(context.Background()))
	assert.Equal(t, [4]uint8{0, 60, 0, 60}, rec.Duty())
	assert.Equal(t, []time.Duration{300 * time.Millisecond}, rec.Sleeps())
}

type events struct {
	mu    sync.Mutex
	kinds []string
}

func (e *events) Publish(kind string, _ any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if kind != "step" && kind != "log" {
		e.kinds = append(e.kinds, kind)
	}
}

func TestRun_Route(t *testing.T) {
	cfg := testConfig()
	ev := &events{}
	cfg.Publisher = ev
	c, rec := newRig(t, cfg)
	rec.SetLines(lines("11111111")...)

	route := []robot.RouteStep{{Follow: 2}, {Turn: "left"}, {Turn: "sideways"}}
	require.NoError(t, c.Run(context.Background(), route))

	assert.Equal(t, []string{"start", "cross", "cross", "turn", "finish"}, ev.kinds)
	assert.Equal(t, []time.Duration{
		300 * time.Millisecond, 300 * time.Millisecond,
		line.DefaultSettle, 200 * time.Millisecond,
	}, rec.Sleeps())
	assert.Equal(t, [4]uint8{}, rec.Duty())
}

func TestConfigFrom(t *testing.T) {
	rc := robot.DefaultConfig()
	rc.Cruise = 300
	cfg := ConfigFrom(rc)
	assert.Equal(t, uint8(255), cfg.Cruise)
	assert.Equal(t, 100, cfg.Hz)
	assert.Equal(t, 200*time.Millisecond, cfg.TurnSettle)
	assert.Equal(t, 500*time.Millisecond, cfg.ClearTime)
	assert.Equal(t, uint8(100), cfg.ClearDuty)

	c, _ := newRig(t, Config{})
	assert.Equal(t, DefaultHz, c.Hz())

	c, _ = newRig(t, Config{Hz: 2_000_000_000})
	assert.Equal(t, robot.MaxHz, c.Hz())
}

func TestRun_Sim(t *testing.T) {
	for _, geometry := range []string{"orthogonal", "diagonal"} {
		t.Run(geometry, func(t *testing.T) {
			rc := robot.DefaultConfig()
			rc.Geometry = geometry
			rc.Hz = 10000
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()

			r, err := robot.OpenSim(ctx, rc, sim.DefaultOptions())
			require.NoError(t, err)
			defer r.Close()
			w := r.World
			c := NewController(r, ConfigFrom(rc))

			require.NoError(t, c.Run(ctx, []robot.RouteStep{{Follow: 2}}))
			assert.InDelta(t, 2*sim.DefaultOptions().CrossSpacing, w.Progress(), 2)
			assert.InDelta(t, 0, w.Offset(), 1.25)

			require.NoError(t, c.Run(ctx, []robot.RouteStep{{Turn: "left"}, {Follow: 1}}))
			assert.Equal(t, 180, r.Sensors.Angle())
			assert.InDelta(t, sim.DefaultOptions().CrossSpacing, w.Progress(), 2)
			assert.InDelta(t, 0, w.Offset(), 1.25)
		})
	}
}

func TestRun_SimRecoversFromOffset(t *testing.T) {
	rc := robot.DefaultConfig()
	rc.Hz = 10000
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	opts := sim.DefaultOptions()
	opts.Drift = 0
	r, err := robot.OpenSim(ctx, rc, opts)
	require.NoError(t, err)
	w := r.World
	c := NewController(r, ConfigFrom(rc))

	w.Nudge(2)
	require.NoError(t, c.Run(ctx, []robot.RouteStep{{Follow: 1}}))
	assert.InDelta(t, 0, w.Offset(), 0.75)
}
