package robot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gwillem/linebot/pkg/board"
	"github.com/gwillem/linebot/pkg/drive"
	"github.com/gwillem/linebot/pkg/hw"
	"github.com/gwillem/linebot/pkg/line"
	"github.com/gwillem/linebot/pkg/pid"
	"github.com/gwillem/linebot/pkg/raspi"
	"github.com/gwillem/linebot/pkg/sim"
)

// Robot is an assembled line follower.
type Robot struct {
	Sensors *line.Array
	Drive   *drive.Drive
	Heading pid.Corrector
	Clock   hw.Clock
	World   *sim.World // set for the sim backend only

	closers []io.Closer
}

// Open connects to the configured backend and assembles the robot. The
// sensor mount is centred and the motors get their initial polarity.
func Open(ctx context.Context, cfg *Config) (*Robot, error) {
	if cfg.Backend == BackendSim {
		opts := sim.DefaultOptions()
		return OpenSim(ctx, cfg, opts)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Robot{Clock: hw.WallClock{}}
	var (
		reader hw.LineReader
		driver hw.MotorDriver
		mount  hw.Mount
	)
	switch cfg.Backend {
	case BackendBoard:
		b, err := board.Open(board.Config{Port: cfg.Board.Port, Baud: cfg.Board.Baud}, cfg.Pins)
		if err != nil {
			return nil, fmt.Errorf("open board: %w", err)
		}
		r.closers = append(r.closers, b)
		reader, driver = b, b
		if cfg.Mount.Kind == MountBoard {
			mount = b
		}
	case BackendRaspi:
		p, err := raspi.Open(cfg.Pins)
		if err != nil {
			return nil, fmt.Errorf("open raspi: %w", err)
		}
		r.closers = append(r.closers, p)
		reader, driver = p, p
		if cfg.Mount.Kind == MountRaspi {
			mount = p
		}
	}

	if cfg.Mount.Kind == MountFeetech {
		m, err := NewBusMount(ctx, cfg.Mount.Port, cfg.Mount.Calibration)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.closers = append(r.closers, m)
		mount = m
	}
	if mount == nil {
		r.Close()
		return nil, fmt.Errorf("%w: %q mount on %q backend", ErrUnknownMount, cfg.Mount.Kind, cfg.Backend)
	}

	if err := r.assemble(ctx, cfg, reader, driver, mount); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// OpenSim assembles the robot inside a simulated world. The world's
// sensor count and wheel layout follow cfg.
func OpenSim(ctx context.Context, cfg *Config, opts sim.Options) (*Robot, error) {
	sc := *cfg
	sc.Backend = BackendSim
	sc.Mount.Kind = MountBoard
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	opts.Sensors = len(cfg.Pins.Sensors)
	opts.Layout = sim.Orthogonal
	if cfg.Geometry == drive.Diagonal.Name {
		opts.Layout = sim.Mecanum
	}
	w := sim.NewWorld(opts)

	r := &Robot{Clock: w, World: w}
	if err := r.assemble(ctx, cfg, w, w, w); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Robot) assemble(ctx context.Context, cfg *Config, reader hw.LineReader, driver hw.MotorDriver, mount hw.Mount) error {
	arr, err := line.NewArray(reader, mount, line.Options{
		Sensors: len(cfg.Pins.Sensors),
		Settle:  cfg.Settle(),
		Center:  cfg.Mount.Center,
		Clock:   r.Clock,
	})
	if err != nil {
		return err
	}
	if err := arr.Center(ctx); err != nil {
		return fmt.Errorf("center mount: %w", err)
	}

	g, err := drive.GeometryByName(cfg.Geometry)
	if err != nil {
		return err
	}
	d, err := drive.New(ctx, driver, g)
	if err != nil {
		return fmt.Errorf("init drive: %w", err)
	}

	r.Sensors = arr
	r.Drive = d
	r.Heading = NewCorrector(cfg.PID, cfg.Hz)
	return nil
}

// NewCorrector builds the heading controller selected by cfg.
func NewCorrector(cfg PIDConfig, hz int) pid.Corrector {
	if cfg.Mode == ModeBounded {
		var tick time.Duration
		if hz > 0 {
			tick = time.Second / time.Duration(hz)
		}
		return pid.NewBounded(cfg.KP, cfg.KI, cfg.KD, cfg.Limit, tick)
	}
	return pid.NewClassic(cfg.KP, cfg.KI, cfg.KD)
}

// Close stops the motors and releases every backend.
func (r *Robot) Close() error {
	var errs []error
	if r.Drive != nil {
		if err := r.Drive.Stop(context.Background()); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
