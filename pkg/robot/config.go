package robot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gwillem/linebot/pkg/drive"
	"github.com/gwillem/linebot/pkg/hw"
	"github.com/gwillem/linebot/pkg/line"
)

const DefaultConfigFile = "linebot.json"

// MaxHz is the fastest supported control loop rate.
const MaxHz = 10000

// Backends.
const (
	BackendBoard = "board"
	BackendRaspi = "raspi"
	BackendSim   = "sim"
)

// Mount kinds.
const (
	MountBoard   = "board"
	MountRaspi   = "raspi"
	MountFeetech = "feetech"
)

// Controller modes.
const (
	ModeClassic = "classic"
	ModeBounded = "bounded"
)

var (
	ErrUnknownBackend = errors.New("robot: unknown backend")
	ErrUnknownMount   = errors.New("robot: unknown mount")
)

// Config holds the robot configuration
type Config struct {
	Backend  string      `json:"backend"`
	Geometry string      `json:"geometry"`
	Board    BoardConfig `json:"board"`
	Pins     hw.Pins     `json:"pins"`
	Mount    MountConfig `json:"mount"`
	PID      PIDConfig   `json:"pid"`

	Cruise       int `json:"cruise"`
	MaxDuty      int `json:"max_duty"`
	Hz           int `json:"hz"`
	SettleMS     int `json:"settle_ms"`
	TurnSettleMS int `json:"turn_settle_ms"`
	ClearMS      int `json:"clear_ms"`
	ClearDuty    int `json:"clear_duty"`

	Route []RouteStep `json:"route,omitempty"`
}

// BoardConfig selects the serial port of the I/O board.
type BoardConfig struct {
	Port string `json:"port"`
	Baud int    `json:"baud"`
}

// MountConfig describes the servo that sweeps the sensor array.
type MountConfig struct {
	Kind        string           `json:"kind"`
	Port        string           `json:"port,omitempty"`
	Center      int              `json:"center"`
	Calibration MountCalibration `json:"calibration,omitempty"`
}

// PIDConfig holds the heading controller gains.
type PIDConfig struct {
	KP    float64 `json:"kp"`
	KI    float64 `json:"ki"`
	KD    float64 `json:"kd"`
	Mode  string  `json:"mode"`
	Limit float64 `json:"limit,omitempty"`
}

// RouteStep is one leg of a route: follow the line across a number of
// cross-sections, or turn to a heading.
type RouteStep struct {
	Follow int    `json:"follow,omitempty"`
	Turn   string `json:"turn,omitempty"`
}

func (s RouteStep) String() string {
	if s.Turn != "" {
		return "turn " + s.Turn
	}
	return fmt.Sprintf("follow %d", s.Follow)
}

// DefaultConfig returns the configuration of the competition robot.
func DefaultConfig() *Config {
	return &Config{
		Backend:  BackendBoard,
		Geometry: drive.Orthogonal.Name,
		Board:    BoardConfig{Baud: 115200},
		Pins:     DefaultPins(),
		Mount:    MountConfig{Kind: MountBoard, Center: line.DefaultCenter},
		PID:      PIDConfig{KP: 13, KI: 0, KD: 5, Mode: ModeClassic, Limit: hw.MaxDuty},

		Cruise:       80,
		MaxDuty:      hw.MaxDuty,
		Hz:           100,
		SettleMS:     int(line.DefaultSettle / time.Millisecond),
		TurnSettleMS: 200,
		ClearMS:      500,
		ClearDuty:    100,
	}
}

// Settle returns the mount settle time.
func (c *Config) Settle() time.Duration {
	return time.Duration(c.SettleMS) * time.Millisecond
}

// TurnSettle returns the pause after a turn.
func (c *Config) TurnSettle() time.Duration {
	return time.Duration(c.TurnSettleMS) * time.Millisecond
}

// ClearTime returns how long the robot drives to leave a cross-section.
func (c *Config) ClearTime() time.Duration {
	return time.Duration(c.ClearMS) * time.Millisecond
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendBoard, BackendRaspi, BackendSim:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend))
	}
	if _, err := drive.GeometryByName(c.Geometry); err != nil {
		errs = append(errs, err)
	}
	switch c.Mount.Kind {
	case MountBoard, MountRaspi, MountFeetech:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownMount, c.Mount.Kind))
	}
	if c.Backend != BackendSim && (c.Mount.Kind == MountBoard || c.Mount.Kind == MountRaspi) && c.Mount.Kind != c.Backend {
		errs = append(errs, fmt.Errorf("mount: %q mount needs the %q backend", c.Mount.Kind, c.Mount.Kind))
	}
	if c.Mount.Kind == MountFeetech && c.Mount.Port == "" {
		errs = append(errs, errors.New("mount: feetech mount needs a port"))
	}
	if c.Backend == BackendBoard && c.Board.Port == "" {
		errs = append(errs, errors.New("board: port not set"))
	}
	if n := len(c.Pins.Sensors); n < line.MinSensors {
		errs = append(errs, fmt.Errorf("pins: %w: %d", line.ErrTooFewSensors, n))
	}
	switch c.PID.Mode {
	case "", ModeClassic:
	case ModeBounded:
		if c.PID.Limit <= 0 {
			errs = append(errs, errors.New("pid: bounded mode needs a positive limit"))
		}
	default:
		errs = append(errs, fmt.Errorf("pid: unknown mode %q", c.PID.Mode))
	}
	if c.Cruise < 0 || c.Cruise > hw.MaxDuty {
		errs = append(errs, fmt.Errorf("cruise: %d out of range", c.Cruise))
	}
	if c.MaxDuty <= 0 || c.MaxDuty > hw.MaxDuty {
		errs = append(errs, fmt.Errorf("max_duty: %d out of range", c.MaxDuty))
	}
	if c.Hz <= 0 || c.Hz > MaxHz {
		errs = append(errs, fmt.Errorf("hz: %d out of range 1..%d", c.Hz, MaxHz))
	}
	for i, s := range c.Route {
		if err := s.validate(); err != nil {
			errs = append(errs, fmt.Errorf("route[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (s RouteStep) validate() error {
	switch {
	case s.Turn != "" && s.Follow != 0:
		return errors.New("step has both follow and turn")
	case s.Turn != "":
		if _, ok := drive.ParseHeading(s.Turn); !ok {
			return fmt.Errorf("unknown heading %q", s.Turn)
		}
	case s.Follow <= 0:
		return errors.New("follow count must be positive")
	}
	return nil
}

// LoadConfigFrom loads configuration from a specific file. Fields missing
// from the file keep their DefaultConfig value.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
