package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.bug.st/serial"

	"github.com/gwillem/linebot/pkg/board"
	"github.com/gwillem/linebot/pkg/drive"
	"github.com/gwillem/linebot/pkg/robot"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Servo IDs probed on a feetech bus.
const (
	firstServoID = 1
	lastServoID  = 10
)

type SetupCommand struct{}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("linebot Setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━"))
	fmt.Println()

	cfg, err := robot.LoadConfigFrom(opts.Config)
	if err != nil {
		cfg = robot.DefaultConfig()
	} else {
		fmt.Printf("Updating %s\n\n", opts.Config)
	}

	// Step 1: Backend and geometry
	chooseBackend(cfg)

	// Step 2: I/O board
	if cfg.Backend == robot.BackendBoard {
		fmt.Println()
		fmt.Println(subHeaderStyle.Render("━━━ Finding I/O Board ━━━"))
		fmt.Println()
		cfg.Board.Port = findBoard(cfg)
	}

	// Step 3: Sensor mount
	if cfg.Mount.Kind == robot.MountFeetech {
		fmt.Println()
		fmt.Println(subHeaderStyle.Render("━━━ Calibrating Sensor Mount ━━━"))
		fmt.Println()
		calibrateMount(cfg)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration is not valid:\n%v\n", err)
		os.Exit(1)
	}
	if err := cfg.SaveTo(opts.Config); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", opts.Config)
	fmt.Println()
	fmt.Println("Check the sensors with: " + headerStyle.Render("linebot probe"))
	fmt.Println("Follow the route with:  " + headerStyle.Render("linebot run"))

	return nil
}

func chooseBackend(cfg *robot.Config) {
	mountKind := cfg.Mount.Kind
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("How is the robot wired?").
				Options(
					huh.NewOption("I/O board over USB serial", robot.BackendBoard),
					huh.NewOption("Raspberry Pi GPIO header", robot.BackendRaspi),
					huh.NewOption("Simulator (no hardware)", robot.BackendSim),
				).
				Value(&cfg.Backend),
			huh.NewSelect[string]().
				Title("Which chassis?").
				Options(
					huh.NewOption("Orthogonal: one omni wheel per side", drive.Orthogonal.Name),
					huh.NewOption("Diagonal: mecanum wheel per corner", drive.Diagonal.Name),
				).
				Value(&cfg.Geometry),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("What sweeps the sensor array?").
				Options(
					huh.NewOption("Hobby servo on the I/O board", robot.MountBoard),
					huh.NewOption("Hobby servo on a Pi pin", robot.MountRaspi),
					huh.NewOption("Feetech bus servo", robot.MountFeetech),
				).
				Value(&mountKind),
		).WithHideFunc(func() bool { return cfg.Backend == robot.BackendSim }),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}
	if cfg.Backend != robot.BackendSim {
		cfg.Mount.Kind = mountKind
	}
}

func findBoard(cfg *robot.Config) string {
	fmt.Println("Scanning serial ports...")

	ports, err := serial.GetPortsList()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing ports: %v\n", err)
		os.Exit(1)
	}

	var found []huh.Option[string]
	for _, port := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}

		b, err := board.Open(board.Config{
			Port:    port,
			Baud:    cfg.Board.Baud,
			Timeout: 300 * time.Millisecond,
		}, cfg.Pins)
		if err != nil {
			continue
		}
		fmt.Printf("  Found board firmware %s on %s\n", b.Version(), port)
		found = append(found, huh.NewOption(fmt.Sprintf("%s (firmware %s)", port, b.Version()), port))
		b.Close()
	}

	switch len(found) {
	case 0:
		fmt.Println("No I/O board found.")
		fmt.Println("Make sure the board is connected and runs the linebot-io firmware.")
		os.Exit(1)
	case 1:
		return found[0].Value
	}

	var port string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which board drives the robot?").
				Options(found...).
				Value(&port),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}
	return port
}

type mountInfo struct {
	port  string
	servo feetech.FoundServo
}

func findMounts(skip string) []mountInfo {
	ports, err := serial.GetPortsList()
	if err != nil {
		fmt.Printf("Error listing ports: %v\n", err)
		return nil
	}

	var mounts []mountInfo
	for _, port := range ports {
		if port == skip || strings.Contains(port, "Bluetooth") {
			continue
		}

		bus, servos, err := connectToBus(port)
		if err != nil {
			continue
		}
		bus.Close()
		for _, s := range servos {
			fmt.Printf("  Found servo %d on %s\n", s.ID, port)
			mounts = append(mounts, mountInfo{port: port, servo: s})
		}
	}
	return mounts
}

func connectToBus(port string) (*feetech.Bus, []feetech.FoundServo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: 1_000_000,
		Protocol: feetech.ProtocolSTS,
		Timeout:  100 * time.Millisecond,
	})
	if err != nil {
		return nil, nil, err
	}

	servos, err := bus.Scan(ctx, firstServoID, lastServoID)
	if err != nil {
		bus.Close()
		return nil, nil, err
	}
	if len(servos) == 0 {
		bus.Close()
		return nil, nil, fmt.Errorf("no servos on %s", port)
	}
	return bus, servos, nil
}

func identifyMount(mounts []mountInfo) (mountInfo, bool) {
	for _, m := range mounts {
		wiggleServo(m)

		var isMount bool
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Did the sensor mount just move (servo %d on %s)?", m.servo.ID, m.port)).
					Affirmative("Yes").
					Negative("No").
					Value(&isMount),
			),
		)
		if err := form.Run(); err != nil {
			fmt.Println()
			os.Exit(0)
		}
		if isMount {
			return m, true
		}
	}
	return mountInfo{}, false
}

func wiggleServo(m mountInfo) {
	bus, _, err := connectToBus(m.port)
	if err != nil {
		fmt.Printf("  Error connecting to %s: %v\n", m.port, err)
		return
	}
	defer bus.Close()

	ctx := context.Background()
	servo := feetech.NewServo(bus, m.servo.ID, m.servo.Model)

	originalPos, err := servo.Position(ctx)
	if err != nil {
		fmt.Printf("  Error reading position: %v\n", err)
		return
	}
	if err := servo.Enable(ctx); err != nil {
		fmt.Printf("  Error enabling servo: %v\n", err)
		return
	}

	fmt.Printf("\n  Wiggling servo %d on %s...\n", m.servo.ID, m.port)

	wiggleAmount := 60
	moveTimeMs := 400
	for _, pos := range []int{originalPos + wiggleAmount, originalPos - wiggleAmount, originalPos} {
		servo.SetPositionWithTime(ctx, pos, moveTimeMs)
		time.Sleep(time.Duration(moveTimeMs+100) * time.Millisecond)
	}
	servo.Disable(ctx)
}

func calibrateMount(cfg *robot.Config) {
	fmt.Println("Scanning for bus servos...")
	mounts := findMounts(cfg.Board.Port)
	if len(mounts) == 0 {
		fmt.Println("No bus servos found.")
		fmt.Println("Make sure the servo bus is connected and powered on.")
		os.Exit(1)
	}

	mount, ok := identifyMount(mounts)
	if !ok {
		fmt.Println("Sensor mount not identified.")
		os.Exit(1)
	}

	bus, _, err := connectToBus(mount.port)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to servo bus: %v\n", err)
		os.Exit(1)
	}
	defer bus.Close()

	// Disable torque so the mount can be swept by hand
	ctx := context.Background()
	servo := feetech.NewServo(bus, mount.servo.ID, mount.servo.Model)
	servo.Disable(ctx)

	fmt.Println()
	fmt.Println(subHeaderStyle.Render("Record sweep range"))
	fmt.Println("Turn the mount to face the robot's right side, then its left side.")
	fmt.Println("Those extremes become 0° and 180°.")
	fmt.Println()

	pos, _ := servo.Position(ctx)
	model := newCalibrationModel(servo, pos)
	p := tea.NewProgram(model)
	finalModel, err := p.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running calibration: %v\n", err)
		os.Exit(1)
	}
	cm := finalModel.(calibrationModel)

	cfg.Mount.Port = mount.port
	cfg.Mount.Calibration = robot.MountCalibration{
		ID:       mount.servo.ID,
		RangeMin: cm.minPosition,
		RangeMax: cm.maxPosition,
	}
	fmt.Println()
	fmt.Printf("Mount calibrated: servo %d, raw %d..%d\n", mount.servo.ID, cm.minPosition, cm.maxPosition)
}

// Calibration TUI model
type calibrationModel struct {
	servo       *feetech.Servo
	curPosition int
	minPosition int
	maxPosition int
	quitting    bool
}

type tickMsg time.Time

func newCalibrationModel(servo *feetech.Servo, pos int) calibrationModel {
	return calibrationModel{
		servo:       servo,
		curPosition: pos,
		minPosition: pos,
		maxPosition: pos,
	}
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m calibrationModel) Init() tea.Cmd {
	return tick()
}

func (m calibrationModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter", "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		pos, err := m.servo.Position(context.Background())
		if err == nil {
			m.curPosition = pos
			m.minPosition = min(m.minPosition, pos)
			m.maxPosition = max(m.maxPosition, pos)
		}
		return m, tick()
	}

	return m, nil
}

func (m calibrationModel) View() string {
	if m.quitting {
		return ""
	}

	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableCellStyle := lipgloss.NewStyle().Padding(0, 1)
	tableCurrentStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)
	tableRangeGoodStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	tableRangeLowStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)

	rangeSize := m.maxPosition - m.minPosition
	cal := robot.MountCalibration{RangeMin: m.minPosition, RangeMax: m.maxPosition}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Current", "Angle", "Min", "Max", "Range").
		Row(
			fmt.Sprintf("%d", m.curPosition),
			fmt.Sprintf("%.0f°", cal.Degrees(m.curPosition)),
			fmt.Sprintf("%d", m.minPosition),
			fmt.Sprintf("%d", m.maxPosition),
			fmt.Sprintf("%d", rangeSize),
		).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			switch col {
			case 0:
				return tableCurrentStyle
			case 4:
				// Half a turn on an STS servo is about 2048 steps.
				if rangeSize > 1500 {
					return tableRangeGoodStyle
				}
				return tableRangeLowStyle
			default:
				return tableCellStyle
			}
		})

	return t.Render() + "\n\n" + dimStyle.Render("Press Enter when done")
}
