package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/linebot/pkg/drive"
	"github.com/gwillem/linebot/pkg/hw"
	"github.com/gwillem/linebot/pkg/line"
	"github.com/gwillem/linebot/pkg/robot"
	"github.com/gwillem/linebot/pkg/sim"
)

type ProbeCommand struct {
	Sim bool `long:"sim" description:"Probe the simulator instead of hardware"`
}

// probeModel samples the array on every tick. The motors only run while
// jogged.
type probeModel struct {
	robot     *robot.Robot
	pins      []int
	duty      uint8
	jog       drive.Direction
	deviation int
	onLine    int
	err       error
	quitting  bool
}

func (m probeModel) Init() tea.Cmd {
	return tick()
}

func (m probeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	ctx := context.Background()
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "enter":
			m.quitting = true
			return m, tea.Quit
		case "[":
			m.err = m.robot.Sensors.Reorient(ctx, line.ReorientLeft)
		case "]":
			m.err = m.robot.Sensors.Reorient(ctx, line.ReorientRight)
		case "v":
			m.err = m.robot.Sensors.Reorient(ctx, line.ReorientReverse)
		case " ":
			m.jog = 0
			m.err = m.robot.Drive.Stop(ctx)
		default:
			if dir, ok := drive.ParseDirection(msg.String()); ok {
				m.jog = dir
				m.err = m.robot.Drive.Move(ctx, dir, m.duty, false)
			}
		}
		return m, nil

	case tickMsg:
		m.deviation, m.onLine, m.err = m.robot.Sensors.Sample(ctx)
		return m, tick()
	}
	return m, nil
}

func (m probeModel) View() string {
	if m.quitting {
		return ""
	}

	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableCellStyle := lipgloss.NewStyle().Padding(0, 1)
	tableOnStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true).Padding(0, 1)
	tableOffStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Padding(0, 1)

	sensors := m.robot.Sensors.Sensors()
	states := m.robot.Sensors.States()
	rows := make([][]string, 0, len(sensors))
	for i, s := range sensors {
		pin := "-"
		if s.Index < len(m.pins) {
			pin = fmt.Sprintf("%d", m.pins[s.Index])
		}
		state := "off"
		if states[i] {
			state = "LINE"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", s.Index),
			pin,
			fmt.Sprintf("%+d", s.Weight),
			state,
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Sensor", "Pin", "Weight", "State").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			if col == 3 {
				if row >= 0 && row < len(states) && states[row] {
					return tableOnStyle
				}
				return tableOffStyle
			}
			return tableCellStyle
		})

	var sb strings.Builder
	sb.WriteString(headerStyle.Render("linebot Probe"))
	sb.WriteString("\n\n")
	sb.WriteString(t.Render())
	sb.WriteString("\n\n")

	class := "on line"
	switch {
	case m.robot.Sensors.IsAtCrossSection():
		class = "cross-section"
	case m.robot.Sensors.IsAtTurn():
		class = "turn"
	}
	sb.WriteString(fmt.Sprintf("deviation %+d  on line %d/%d  %s\n", m.deviation, m.onLine, len(sensors), subHeaderStyle.Render(class)))
	sb.WriteString(fmt.Sprintf("mount %d°  %s\n", m.robot.Sensors.Angle(), m.robot.Sensors.Parity()))
	if m.jog != 0 {
		sb.WriteString(fmt.Sprintf("jogging %s at duty %d\n", m.jog, m.duty))
	}
	if m.err != nil {
		sb.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render(m.err.Error()))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	sb.WriteString(dimStyle.Render("f/b/l/r jog, space stop, [/] sweep mount, v reverse, q quit"))
	return sb.String()
}

func (c *ProbeCommand) Execute(args []string) error {
	cfg, err := robot.LoadConfigFrom(opts.Config)
	switch {
	case err == nil:
	case c.Sim:
		cfg = robot.DefaultConfig()
	default:
		fmt.Fprintln(os.Stderr, "No configuration found. Run 'linebot setup' first.")
		os.Exit(1)
	}

	ctx := context.Background()
	var r *robot.Robot
	if c.Sim {
		r, err = robot.OpenSim(ctx, cfg, sim.DefaultOptions())
	} else {
		r, err = robot.Open(ctx, cfg)
	}
	if err != nil {
		log.Fatalf("Failed to open robot: %v", err)
	}
	defer r.Close()

	p := tea.NewProgram(probeModel{robot: r, pins: cfg.Pins.Sensors, duty: hw.Saturate(cfg.Cruise)})
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running program: %v", err)
	}
	return nil
}
