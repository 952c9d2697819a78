package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/linebot/pkg/follow"
	"github.com/gwillem/linebot/pkg/robot"
	"github.com/gwillem/linebot/pkg/sim"
	"github.com/gwillem/linebot/pkg/telemetry"
)

type RunCommand struct {
	Hz        int    `long:"hz" description:"Control loop frequency (default from config)"`
	Sim       bool   `long:"sim" description:"Run in the simulator instead of on hardware"`
	Telemetry string `long:"telemetry" value-name:"ADDR" description:"Serve websocket telemetry on ADDR, e.g. :8080"`
	Follow    int    `long:"follow" default:"1" description:"Cross-sections to follow when the config has no route"`
}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	statusHeight = 2 // status row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border

	deviationScale = 20 // deviation is plotted at this scale next to the duty
)

// Series colors
var seriesColors = map[string]string{
	"deviation":  "51",  // cyan
	"correction": "208", // orange
}

var seriesOrder = []string{"deviation", "correction"}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	onStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	flagStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)

type runModel struct {
	ctrl     *follow.Controller
	world    *sim.World     // nil on hardware
	hub      *telemetry.Hub // nil without --telemetry
	chart    *streamlinechart.Model
	title    string
	width    int      // terminal width
	height   int      // terminal height
	logs     []string // last N log messages
	state    follow.State
	done     bool
	err      error
	quitting bool
}

func (m *runModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// Messages from the controller
type stateMsg follow.State
type logMsg string
type doneMsg struct{ err error }

func waitForState(ctrl *follow.Controller) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-ctrl.States())
	}
}

func waitForLog(ctrl *follow.Controller) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-ctrl.Logs())
	}
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *runModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20 // default size before we know terminal size
	}
	width = max(m.width-borderSize-2, 40)
	height = max(m.height-headerHeight-legendHeight-statusHeight-footerHeight-borderSize, 10)
	return width, height
}

func (m *runModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func initialRunModel(ctrl *follow.Controller, title string, world *sim.World, hub *telemetry.Hub) runModel {
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(-255, 255),
	)
	for _, name := range seriesOrder {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(seriesColors[name]))
		chart.SetDataSetStyles(name, runes.ThinLineStyle, style)
	}

	return runModel{
		ctrl:  ctrl,
		world: world,
		hub:   hub,
		chart: &chart,
		title: title,
	}
}

func (m runModel) Init() tea.Cmd {
	return tea.Batch(
		waitForState(m.ctrl),
		waitForLog(m.ctrl),
	)
}

func (m runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case stateMsg:
		state := follow.State(msg)
		if state.Error == nil {
			// The controller returns an unsigned correction; plot it with
			// the sign of the deviation that produced it.
			correction := state.Correction
			if state.Deviation < 0 {
				correction = -correction
			}
			m.chart.PushDataSet("deviation", float64(state.Deviation*deviationScale))
			m.chart.PushDataSet("correction", float64(correction))
			m.chart.DrawAll()
			m.state = state
		}
		return m, waitForState(m.ctrl)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.ctrl)

	case doneMsg:
		m.done = true
		m.err = msg.err
		return m, nil
	}

	return m, nil
}

func (m runModel) View() string {
	if m.quitting {
		return "Run stopped.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render(m.title))
	sb.WriteString(fmt.Sprintf(" - %d Hz", m.ctrl.Hz()))
	if m.world != nil {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  sim %.1fs", m.world.Elapsed().Seconds())))
	}
	if m.hub != nil {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  %d viewers", m.hub.Clients())))
	}
	if m.width > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  [%dx%d]", m.width, m.height)))
	}
	sb.WriteString("\n\n")

	// Chart
	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	// Legend
	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	// Status
	sb.WriteString(renderStatus(m.state))
	sb.WriteString("\n\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20)).
		Foreground(lipgloss.Color("9")) // bright red

	var logLines string
	switch {
	case len(m.logs) > 0:
		logLines = strings.Join(m.logs, "\n")
	default:
		logLines = statusStyle.Render("Press 'q' to quit")
	}
	if m.done {
		result := "Route finished, press 'q' to quit"
		if m.err != nil {
			result = fmt.Sprintf("Route failed: %v", m.err)
		}
		logLines += "\n" + result
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func renderLegend() string {
	var items []string
	for _, name := range seriesOrder {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(seriesColors[name])).Bold(true)
		label := name
		if name == "deviation" {
			label = fmt.Sprintf("deviation ×%d", deviationScale)
		}
		items = append(items, colorStyle.Render("━━")+" "+label)
	}
	return strings.Join(items, "  ")
}

func renderSensors(states []bool) string {
	var sb strings.Builder
	for _, on := range states {
		if on {
			sb.WriteString(onStyle.Render("●"))
		} else {
			sb.WriteString(statusStyle.Render("○"))
		}
	}
	return sb.String()
}

func renderStatus(s follow.State) string {
	if s.Timestamp.IsZero() {
		return statusStyle.Render("waiting for first sample")
	}
	parts := []string{
		renderSensors(s.Sensors),
		fmt.Sprintf("%-12s duty %3d", s.Direction, s.Duty),
		fmt.Sprintf("mount %3d°", s.Angle),
	}
	if s.Cross {
		parts = append(parts, flagStyle.Render("CROSS"))
	} else if s.Turn {
		parts = append(parts, flagStyle.Render("TURN"))
	}
	return strings.Join(parts, "  ")
}

func (c *RunCommand) Execute(args []string) error {
	cfg, err := robot.LoadConfigFrom(opts.Config)
	switch {
	case err == nil:
		fmt.Printf("Loaded configuration from %s\n", opts.Config)
	case c.Sim:
		cfg = robot.DefaultConfig()
	default:
		fmt.Fprintln(os.Stderr, "No configuration found. Run 'linebot setup' first.")
		os.Exit(1)
	}
	if c.Hz > 0 {
		cfg.Hz = c.Hz
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var r *robot.Robot
	title := "linebot run"
	if c.Sim {
		simOpts := sim.DefaultOptions()
		simOpts.RealTime = true
		r, err = robot.OpenSim(ctx, cfg, simOpts)
		title += " (sim)"
	} else {
		r, err = robot.Open(ctx, cfg)
	}
	if err != nil {
		log.Fatalf("Failed to open robot: %v", err)
	}
	defer r.Close()

	fcfg := follow.ConfigFrom(cfg)
	var hub *telemetry.Hub
	if c.Telemetry != "" {
		hub = telemetry.NewHub()
		fcfg.Publisher = hub
		go func() {
			if err := telemetry.Serve(ctx, c.Telemetry, hub); err != nil {
				log.Printf("Telemetry server error: %v", err)
			}
		}()
		fmt.Printf("Telemetry on ws://%s%s (run %s)\n", c.Telemetry, telemetry.Path, hub.RunID())
	}

	ctrl := follow.NewController(r, fcfg)

	route := cfg.Route
	if len(route) == 0 {
		route = []robot.RouteStep{{Follow: c.Follow}}
	}

	p := tea.NewProgram(initialRunModel(ctrl, title, r.World, hub), tea.WithAltScreen())

	// Start controller in background
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		err := ctrl.Run(ctx, route)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		p.Send(doneMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running program: %v", err)
	}
	cancel()
	<-finished

	return nil
}
