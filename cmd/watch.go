// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Velobahn Labs

package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/velobahn/veloctl/pkg/vlink"
)

var watchPeriodMs uint16

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live telemetry dashboard",
	Long: `Full-screen live dashboard over the telemetry push stream: latest vehicle
state, a speed trace, link statistics and a session event log.

Keys: q quit, b toggle brake, 0-5 assist level, c cancel cruise.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().Uint16Var(&watchPeriodMs, "period", 200, "Push period in milliseconds")
	rootCmd.AddCommand(watchCmd)
}

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

const speedHistoryLen = 60

type watchLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

type watchModel struct {
	client   *vlink.Client
	connInfo string

	telemetry    vlink.TelemetryFrame
	hasTelemetry bool
	speedHistory []uint16
	spin         spinner.Model

	log           []watchLogEntry
	maxLogEntries int
	brakeHeld     bool

	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type watchFrameMsg vlink.TelemetryFrame

type watchReadIdleMsg struct{}

type watchReadErrMsg struct{ err error }

type watchNoteMsg struct {
	message string
	isError bool
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func initialWatchModel(c *vlink.Client, connInfo string) watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	return watchModel{
		client:        c,
		connInfo:      connInfo,
		speedHistory:  make([]uint16, 0, speedHistoryLen),
		log:           make([]watchLogEntry, 0),
		maxLogEntries: 100,
		spin:          sp,
		width:         80,
		height:        24,
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.readCmd(), m.spin.Tick)
}

// readCmd blocks for one push frame with a short timeout so key handling
// stays responsive; the client lock serializes it against commands.
func (m watchModel) readCmd() tea.Cmd {
	c := m.client
	return func() tea.Msg {
		tf, err := c.ReadStreamFrame(250 * time.Millisecond)
		if err != nil {
			if errors.Is(err, vlink.ErrTimeout) {
				return watchReadIdleMsg{}
			}
			return watchReadErrMsg{err: err}
		}
		return watchFrameMsg(tf)
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case watchFrameMsg:
		m.telemetry = vlink.TelemetryFrame(msg)
		m.hasTelemetry = true
		m.speedHistory = append(m.speedHistory, m.telemetry.SpeedCmS)
		if len(m.speedHistory) > speedHistoryLen {
			m.speedHistory = m.speedHistory[len(m.speedHistory)-speedHistoryLen:]
		}
		return m, m.readCmd()

	case watchReadIdleMsg:
		return m, m.readCmd()

	case watchReadErrMsg:
		m.addLogEntry(fmt.Sprintf("stream read: %v", msg.err), true)
		return m, m.readCmd()

	case watchNoteMsg:
		m.addLogEntry(msg.message, msg.isError)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m watchModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "b":
		m.brakeHeld = !m.brakeHeld
		return m, m.setStateCmd(vlink.FieldBrake, boolToU32(m.brakeHeld),
			fmt.Sprintf("brake %v", m.brakeHeld))

	case "c":
		return m, m.setStateCmd(vlink.FieldCruiseCmS, 0, "cruise cancelled")

	case "0", "1", "2", "3", "4", "5":
		level := uint32(key[0] - '0')
		return m, m.setStateCmd(vlink.FieldAssistLevel, level,
			fmt.Sprintf("assist level %d", level))
	}
	return m, nil
}

// setStateCmd runs one state-set exchange off the Update loop.
func (m watchModel) setStateCmd(field byte, value uint32, note string) tea.Cmd {
	c := m.client
	return func() tea.Msg {
		if err := c.SetState(field, value); err != nil {
			return watchNoteMsg{message: fmt.Sprintf("%s: %v", note, err), isError: true}
		}
		return watchNoteMsg{message: note}
	}
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m watchModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	s.WriteString(titleStyle.Render("VELOCTL WATCH"))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit b=brake c=cruise-off 0-5=assist", m.connInfo)))
	s.WriteString("\n\n")

	// Telemetry panel
	s.WriteString(m.renderTelemetry(labelStyle, valueStyle, warningStyle, boxStyle))
	s.WriteString("\n\n")

	// Speed trace
	s.WriteString(m.renderSpeedTrace(labelStyle, boxStyle))
	s.WriteString("\n\n")

	// Link statistics
	s.WriteString(m.renderStats(labelStyle, valueStyle, errorStyle, boxStyle))
	s.WriteString("\n\n")

	// Session log
	s.WriteString(m.renderLog(labelStyle, warningStyle, errorStyle, headerStyle, boxStyle))

	return s.String()
}

func (m watchModel) renderTelemetry(labelStyle, valueStyle, warningStyle, boxStyle lipgloss.Style) string {
	var content strings.Builder
	content.WriteString(labelStyle.Render("TELEMETRY"))
	content.WriteString(" | ")

	if !m.hasTelemetry {
		content.WriteString(m.spin.View())
		content.WriteString(warningStyle.Render("waiting for push frames..."))
		return boxStyle.Width(m.width - 4).Render(content.String())
	}

	t := m.telemetry
	content.WriteString(fmt.Sprintf("%s %s  ", labelStyle.Render("Speed:"),
		valueStyle.Render(fmt.Sprintf("%.1f km/h", float64(t.SpeedCmS)*0.036))))
	content.WriteString(fmt.Sprintf("%s %s  ", labelStyle.Render("Battery:"),
		valueStyle.Render(fmt.Sprintf("%.2f V", float64(t.BatteryMV)/1000))))
	content.WriteString(fmt.Sprintf("%s %s  ", labelStyle.Render("Current:"),
		valueStyle.Render(fmt.Sprintf("%.2f A", float64(t.MotorCurrentMA)/1000))))
	content.WriteString(fmt.Sprintf("%s %s  ", labelStyle.Render("Temp:"),
		valueStyle.Render(fmt.Sprintf("%dC", t.ControllerTempC))))
	content.WriteString(fmt.Sprintf("%s %s  ", labelStyle.Render("Flags:"),
		valueStyle.Render(vlink.FormatFlags(t.Flags))))
	content.WriteString(fmt.Sprintf("%s %s", labelStyle.Render("Uptime:"),
		valueStyle.Render(formatUptimeMs(t.UptimeMs))))

	return boxStyle.Width(m.width - 4).Render(content.String())
}

// renderSpeedTrace draws the recent speed history as a block-character bar
// per sample, scaled to the largest value in the window.
func (m watchModel) renderSpeedTrace(labelStyle, boxStyle lipgloss.Style) string {
	blocks := []rune(" ▁▂▃▄▅▆▇█")

	var max uint16 = 1
	for _, v := range m.speedHistory {
		if v > max {
			max = v
		}
	}

	var trace strings.Builder
	for _, v := range m.speedHistory {
		idx := int(uint32(v) * uint32(len(blocks)-1) / uint32(max))
		trace.WriteRune(blocks[idx])
	}

	content := fmt.Sprintf("%s %s", labelStyle.Render("SPEED"), trace.String())
	return boxStyle.Width(m.width - 4).Render(content)
}

func (m watchModel) renderStats(labelStyle, valueStyle, errorStyle, boxStyle lipgloss.Style) string {
	st := m.client.Stats().Snapshot()

	errRender := valueStyle.Render("0")
	if st.ChecksumErrors > 0 {
		errRender = errorStyle.Render(fmt.Sprintf("%d", st.ChecksumErrors))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		labelStyle.Render("Sent:"), valueStyle.Render(fmt.Sprintf("%d", st.FramesSent)),
		labelStyle.Render("Received:"), valueStyle.Render(fmt.Sprintf("%d", st.FramesReceived)),
		labelStyle.Render("CRC errs:"), errRender,
		labelStyle.Render("Timeouts:"), valueStyle.Render(fmt.Sprintf("%d", st.Timeouts)),
		labelStyle.Render("Discarded:"), valueStyle.Render(fmt.Sprintf("%d B", st.BytesDiscarded)),
	)
	return boxStyle.Width(m.width - 4).Render(content)
}

func (m watchModel) renderLog(labelStyle, warningStyle, errorStyle, headerStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("SESSION LOG"))
	s.WriteString("\n")

	logHeight := 6
	startIdx := len(m.log) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.log) == 0 {
		s.WriteString(headerStyle.Render("  (no entries yet)"))
	} else {
		for i := startIdx; i < len(m.log); i++ {
			entry := m.log[i]
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyle
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(entry.timestamp.Format("15:04:05.000")),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *watchModel) addLogEntry(message string, isError bool) {
	m.log = append(m.log, watchLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.log) > m.maxLogEntries {
		m.log = m.log[len(m.log)-m.maxLogEntries:]
	}
}

func boolToU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

//////////////////////////////////////////////////////////////
// Command
//////////////////////////////////////////////////////////////

func runWatch(cmd *cobra.Command, args []string) error {
	if watchPeriodMs == 0 {
		return fmt.Errorf("--period must be nonzero")
	}

	c, t, info, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	if err := c.SetStreamPeriod(watchPeriodMs); err != nil {
		return fmt.Errorf("start stream: %w", err)
	}
	defer c.SetStreamPeriod(0)

	p := tea.NewProgram(initialWatchModel(c, info), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
