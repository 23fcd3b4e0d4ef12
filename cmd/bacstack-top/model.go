package main

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/krisarmstrong/bacstack/pkg/daemon"
	"github.com/krisarmstrong/bacstack/pkg/router"
	"github.com/krisarmstrong/bacstack/pkg/stats"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))

	reachableStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	busyStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	unreachableStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Padding(1, 2)
)

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// model is the live view over one Daemon's Stats and RoutingTable. It
// never mutates the daemon; every keystroke only toggles what's shown.
type model struct {
	d *daemon.Daemon

	snapshot stats.StatisticsSnapshot
	entries  []router.RoutingEntry
	ports    []*router.RouterPort

	showHelp bool
	width    int
	height   int
}

func newModel(d *daemon.Daemon) model {
	return model{d: d}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), refreshCmd(m.d))
}

type refreshMsg struct {
	snapshot stats.StatisticsSnapshot
	entries  []router.RoutingEntry
	ports    []*router.RouterPort
}

func refreshCmd(d *daemon.Daemon) tea.Cmd {
	return func() tea.Msg {
		d.Stats().Update()
		table := d.RoutingTable()

		entryMap := table.GetAllEntries()
		entries := make([]router.RoutingEntry, 0, len(entryMap))
		for _, e := range entryMap {
			entries = append(entries, e)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Network < entries[j].Network })

		ports := table.GetAllPorts()
		sort.Slice(ports, func(i, j int) bool { return ports[i].ID < ports[j].ID })

		return refreshMsg{snapshot: d.Stats().GetSnapshot(), entries: entries, ports: ports}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "h", "?":
			m.showHelp = !m.showHelp
			return m, nil
		}
		m.showHelp = false
		return m, nil

	case tickMsg:
		return m, tea.Batch(tickCmd(), refreshCmd(m.d))

	case refreshMsg:
		m.snapshot = msg.snapshot
		m.entries = msg.entries
		m.ports = msg.ports
		return m, nil
	}
	return m, nil
}

func (m model) View() string {
	if m.showHelp {
		return helpStyle.Render(
			"bacstack-top\n\n" +
				"  h, ?       toggle this help\n" +
				"  q, ctrl+c  quit\n\n" +
				"press any key to go back",
		)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf(" bacstackd  %s ", m.snapshot.ConfigFile)))
	b.WriteString("\n\n")
	b.WriteString(boxStyle.Render(m.renderStats()))
	b.WriteString("\n")
	b.WriteString(boxStyle.Render(m.renderPorts()))
	b.WriteString("\n")
	b.WriteString(boxStyle.Render(m.renderRoutes()))
	b.WriteString("\n")
	b.WriteString(labelStyle.Render("h: help   q: quit"))
	return b.String()
}

func (m model) renderStats() string {
	s := m.snapshot
	return fmt.Sprintf(
		"%s %s\n"+
			"%s %d routed, %d discarded\n"+
			"%s %d completed\n"+
			"%s sent %d / recv %d / dup %d\n"+
			"%s %d forwarded, fan-out %d\n"+
			"%s %d MB, %d goroutines",
		labelStyle.Render("uptime"), s.Uptime.Round(time.Second),
		labelStyle.Render("npdu"), s.NPDURouted, s.NPDUDiscarded,
		labelStyle.Render("transactions"), s.TransactionsCompleted,
		labelStyle.Render("segments"), s.SegmentsSent, s.SegmentsReceived, s.SegmentsDuplicated,
		labelStyle.Render("bbmd"), s.BBMDForwardedNPDUs, s.BBMDFanOutTotal,
		labelStyle.Render("memory"), s.MemoryUsageMB, s.GoroutineCount,
	)
}

func (m model) renderRoutes() string {
	if len(m.entries) == 0 {
		return labelStyle.Render("no routes")
	}

	var b strings.Builder
	b.WriteString(labelStyle.Render("net    via              reachability"))
	for _, e := range m.entries {
		via := "direct"
		if e.NextHop != nil {
			via = hex.EncodeToString(e.NextHop)
		}
		b.WriteString(fmt.Sprintf("\n%-6d %-16s %s", e.Network, via, reachabilityLabel(e.Reachability)))
	}
	return b.String()
}

func (m model) renderPorts() string {
	if len(m.ports) == 0 {
		return labelStyle.Render("no ports bound")
	}

	var b strings.Builder
	b.WriteString(labelStyle.Render("port   net    local mac"))
	for _, p := range m.ports {
		b.WriteString(fmt.Sprintf("\n%-6d %-6d %s", p.ID, p.Network, hex.EncodeToString(p.LocalMAC)))
	}
	return b.String()
}

func reachabilityLabel(r router.Reachability) string {
	switch r {
	case router.Reachable:
		return reachableStyle.Render("reachable")
	case router.Busy:
		return busyStyle.Render("busy")
	default:
		return unreachableStyle.Render("unreachable")
	}
}
