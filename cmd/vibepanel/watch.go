package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/vibepanel/vibepanel/internal/aggregator"
	"github.com/vibepanel/vibepanel/internal/colors"
	"github.com/vibepanel/vibepanel/internal/domain"
	"github.com/vibepanel/vibepanel/internal/notify"
	"github.com/vibepanel/vibepanel/internal/publish"
)

const (
	defaultViewportWidth  = 100
	defaultViewportHeight = 20
	headerFooterLines     = 3
	volumeStep            = 5
	recentNotifications   = 5
	controlTimeout        = 5 * time.Second
)

// controller is the part of the panel driven from the keyboard.
type controller interface {
	Toggle(ctx context.Context, d domain.Domain, on bool) error
	AdjustVolume(ctx context.Context, delta int) (int, error)
	ToggleMute(ctx context.Context) (bool, error)
	Transport(ctx context.Context, action domain.PlayerAction) error
	InvokeAction(id uint32, key string) error
	Notifications() *notify.Store
}

type snapshotSource interface {
	controller
	Snapshots() *publish.Holder[aggregator.Snapshot]
	Run(ctx context.Context) error
}

type watchClient interface {
	Open(ctx context.Context, configPath string, serveNotifications bool) (snapshotSource, error)
}

// NewWatchCmd creates the watch command.
func NewWatchCmd(client watchClient) *cobra.Command {
	if client == nil {
		panic("NewWatchCmd: client dependency cannot be nil")
	}

	var (
		path  string
		serve bool
	)
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Show the live snapshot in the terminal",
		Long: `Run the adapters in the foreground and redraw the snapshot on every change.

KEYS:
    q, esc, ctrl+c   Quit
    up, down         Scroll
    w, b, i          Toggle Wi-Fi, Bluetooth or the idle inhibitor
    +, -, m          Raise, lower or mute the volume
    space, n, p      Play/pause, next or previous track
    enter            Activate the newest notification`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			colors.DisableStructuredLogging()
			defer colors.EnableStructuredLogging()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			src, err := client.Open(ctx, path, serve)
			if err != nil {
				return err
			}
			m := newWatchModel(ctx, src.Snapshots(), src)
			defer m.close()

			p := tea.NewProgram(m,
				tea.WithContext(ctx),
				tea.WithAltScreen(),
				tea.WithInput(cmd.InOrStdin()),
				tea.WithOutput(cmd.OutOrStdout()),
			)
			runErr := make(chan error, 1)
			go func() {
				err := src.Run(ctx)
				if err != nil && !errors.Is(err, context.Canceled) {
					p.Send(pipelineErrMsg{err: err})
				}
				runErr <- err
			}()

			final, err := p.Run()
			cancel()
			pipeErr := <-runErr
			if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return err
			}
			if fm, ok := final.(*watchModel); ok && fm.err != nil {
				return fm.err
			}
			if pipeErr != nil && !errors.Is(pipeErr, context.Canceled) {
				return pipeErr
			}
			return nil
		},
	}
	watchCmd.Flags().StringVarP(&path, "config", "c", "", "Configuration file to read")
	watchCmd.Flags().BoolVar(&serve, "notifications", false, "Serve desktop notifications while no daemon does")
	return watchCmd
}

type versionMsg uint64

type notesMsg struct{}

type pipelineErrMsg struct{ err error }

// controlMsg reports the outcome of a keyboard control.
type controlMsg struct {
	note string
	err  error
}

type watchModel struct {
	ctx         context.Context
	ctl         controller
	holder      *publish.Holder[aggregator.Snapshot]
	updates     <-chan uint64
	notes       <-chan uint64
	unsubscribe func()
	snap        aggregator.Snapshot
	viewport    viewport.Model
	spinner     spinner.Model
	now         func() time.Time
	status      controlMsg
	err         error
}

func newWatchModel(ctx context.Context, holder *publish.Holder[aggregator.Snapshot], ctl controller) *watchModel {
	updates, unsubscribe := holder.Subscribe()
	m := &watchModel{
		ctx:         ctx,
		ctl:         ctl,
		holder:      holder,
		updates:     updates,
		unsubscribe: unsubscribe,
		snap:        holder.Current(),
		viewport:    viewport.New(defaultViewportWidth, defaultViewportHeight),
		spinner:     spinner.New(spinner.WithSpinner(spinner.Dot)),
		now:         time.Now,
	}
	if ctl != nil {
		if store := ctl.Notifications(); store != nil {
			notes, stop := store.Holder().Subscribe()
			m.notes = notes
			m.unsubscribe = func() {
				stop()
				unsubscribe()
			}
		}
	}
	m.refresh()
	return m
}

func (m *watchModel) close() {
	m.unsubscribe()
}

// waitForVersion blocks until the holder publishes a newer snapshot.
func waitForVersion(updates <-chan uint64) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-updates
		if !ok {
			return nil
		}
		return versionMsg(v)
	}
}

// waitForNotes blocks until the notification history changes.
func waitForNotes(notes <-chan uint64) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-notes; !ok {
			return nil
		}
		return notesMsg{}
	}
}

func (m *watchModel) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, waitForVersion(m.updates)}
	if m.notes != nil {
		cmds = append(cmds, waitForNotes(m.notes))
	}
	return tea.Batch(cmds...)
}

func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
		if cmd := m.control(msg.String()); cmd != nil {
			return m, cmd
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-headerFooterLines, 1)
		m.refresh()
		return m, nil
	case versionMsg:
		m.snap = m.holder.Current()
		m.refresh()
		return m, waitForVersion(m.updates)
	case notesMsg:
		m.refresh()
		return m, waitForNotes(m.notes)
	case controlMsg:
		m.status = msg
		m.refresh()
		return m, nil
	case pipelineErrMsg:
		m.err = msg.err
		return m, tea.Quit
	case spinner.TickMsg:
		if m.snap.Version > 0 {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *watchModel) View() string {
	var b strings.Builder
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("4"))
	if m.snap.Version == 0 {
		b.WriteString(m.spinner.View() + " waiting for the first report\n")
	} else {
		b.WriteString(title.Render(fmt.Sprintf("snapshot v%d  config g%d", m.snap.Version, m.snap.ConfigGeneration)) + "\n")
	}
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	switch {
	case m.status.err != nil:
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Render(m.status.err.Error()))
	case m.status.note != "":
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Render(m.status.note))
	default:
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("q quit • ↑/↓ scroll • w/b/i toggle • +/-/m volume • space/n/p media • enter open"))
	}
	return b.String()
}

func (m *watchModel) refresh() {
	content := renderServices(m.snap.Services(), m.now())
	if m.ctl != nil {
		if store := m.ctl.Notifications(); store != nil {
			content += "\n" + renderNotifications(store.List(notify.Filter{Limit: recentNotifications}), m.now())
		}
	}
	m.viewport.SetContent(content)
}

// control maps a key to a panel control. It returns nil for other keys.
func (m *watchModel) control(key string) tea.Cmd {
	if m.ctl == nil {
		return nil
	}
	run := func(fn func(ctx context.Context) (string, error)) tea.Cmd {
		return func() tea.Msg {
			ctx, cancel := context.WithTimeout(m.ctx, controlTimeout)
			defer cancel()
			note, err := fn(ctx)
			return controlMsg{note: note, err: err}
		}
	}
	switch key {
	case "w", "b", "i":
		d := map[string]domain.Domain{"w": domain.Network, "b": domain.Bluetooth, "i": domain.Idle}[key]
		on, ok := toggleTarget(m.snap, d)
		if !ok {
			return func() tea.Msg { return controlMsg{err: fmt.Errorf("%s is not ready", d)} }
		}
		return run(func(ctx context.Context) (string, error) {
			return fmt.Sprintf("%s %s", d, onOff(on)), m.ctl.Toggle(ctx, d, on)
		})
	case "+", "=", "-":
		delta := volumeStep
		if key == "-" {
			delta = -volumeStep
		}
		return run(func(ctx context.Context) (string, error) {
			v, err := m.ctl.AdjustVolume(ctx, delta)
			return fmt.Sprintf("volume %d%%", v), err
		})
	case "m":
		return run(func(ctx context.Context) (string, error) {
			muted, err := m.ctl.ToggleMute(ctx)
			if muted {
				return "muted", err
			}
			return "unmuted", err
		})
	case " ", "n", "p":
		action := map[string]domain.PlayerAction{" ": domain.PlayPause, "n": domain.Next, "p": domain.Previous}[key]
		return run(func(ctx context.Context) (string, error) {
			return string(action), m.ctl.Transport(ctx, action)
		})
	case "enter":
		var recent []notify.Record
		if store := m.ctl.Notifications(); store != nil {
			recent = store.List(notify.Filter{Limit: 1})
		}
		if len(recent) == 0 {
			return func() tea.Msg { return controlMsg{note: "no notifications"} }
		}
		rec := recent[0]
		action := "default"
		if len(rec.Actions) > 0 {
			action = rec.Actions[0].Key
		}
		return run(func(context.Context) (string, error) {
			return fmt.Sprintf("activated %q", rec.Summary), m.ctl.InvokeAction(rec.ID, action)
		})
	}
	return nil
}

// toggleTarget returns the opposite of the current on/off state of d.
func toggleTarget(snap aggregator.Snapshot, d domain.Domain) (bool, bool) {
	st, ok := snap.Get(d)
	if !ok || st.Payload == nil {
		return false, false
	}
	switch p := st.Payload.(type) {
	case domain.NetworkState:
		return !p.WifiEnabled, true
	case domain.BluetoothState:
		return !p.Powered, true
	case domain.IdleInhibitorState:
		return !p.Active, true
	}
	return false, false
}

func renderNotifications(records []notify.Record, now time.Time) string {
	title := lipgloss.NewStyle().Bold(true).Render("NOTIFICATIONS")
	if len(records) == 0 {
		return title + "\n" + lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("none")
	}
	var b strings.Builder
	printRecords(&b, records, now)
	return title + "\n" + strings.TrimRight(b.String(), "\n")
}

var availabilityColors = map[domain.Availability]lipgloss.Color{
	domain.Ready:       lipgloss.Color("2"),
	domain.Connecting:  lipgloss.Color("3"),
	domain.Errored:     lipgloss.Color("1"),
	domain.Unavailable: lipgloss.Color("241"),
}

// renderServices draws one table row per service.
func renderServices(services []domain.ServiceState, now time.Time) string {
	if len(services) == 0 {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("No services enabled")
	}
	rows := make([][]string, 0, len(services))
	for _, st := range services {
		state := string(st.Availability)
		if st.Stale {
			state += " (stale)"
		}
		age := ""
		if !st.LastUpdated.IsZero() {
			age = humanize.RelTime(st.LastUpdated, now, "ago", "from now")
		}
		rows = append(rows, []string{st.Domain.String(), state, summarize(st), age})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("SERVICE", "STATE", "DETAILS", "UPDATED").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			s := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return s.Bold(true)
			}
			if col == 1 && row >= 0 && row < len(services) {
				return s.Foreground(availabilityColors[services[row].Availability])
			}
			return s
		})
	return t.String()
}

// summarize renders a one-line description of a service payload.
func summarize(st domain.ServiceState) string {
	if st.Payload == nil {
		return st.Reason
	}
	var s string
	switch p := st.Payload.(type) {
	case domain.PowerState:
		if !p.BatteryPresent {
			s = "no battery"
		} else {
			s = fmt.Sprintf("%.0f%% %s", p.Percent, p.State)
		}
		if p.Profile != "" {
			s += ", profile " + p.Profile
		}
	case domain.NetworkState:
		switch {
		case p.Wired:
			s = "wired"
		case p.Connected:
			s = fmt.Sprintf("%s %d%%", p.SSID, p.Strength)
		case !p.WifiEnabled:
			s = "wifi off"
		default:
			s = "disconnected"
		}
	case domain.BluetoothState:
		switch {
		case !p.HasAdapter:
			s = "no adapter"
		case !p.Powered:
			s = "off"
		default:
			s = fmt.Sprintf("on, %d connected", p.ConnectedCount())
		}
	case domain.AudioState:
		s = fmt.Sprintf("%d%%", p.Volume)
		if p.Muted {
			s += " muted"
		}
		if p.MicMuted {
			s += ", mic muted"
		}
	case domain.TrayState:
		s = fmt.Sprintf("%d items", len(p.Items))
	case domain.MediaState:
		switch {
		case p.Player == "":
			s = "no player"
		case p.Title == "":
			s = fmt.Sprintf("%s %s", p.Identity, strings.ToLower(p.Status))
		default:
			s = fmt.Sprintf("%s: %s - %s", strings.ToLower(p.Status), p.Artist, p.Title)
		}
	case domain.UpdatesState:
		s = fmt.Sprintf("%d pending (%s)", p.Count, p.Backend)
	case domain.IdleInhibitorState:
		s = "idle allowed"
		if p.Active {
			s = "idle inhibited"
		}
	case domain.SystemState:
		s = fmt.Sprintf("cpu %.0f%%, mem %s/%s", p.CPUPercent, humanize.IBytes(p.MemoryUsed), humanize.IBytes(p.MemoryTotal))
	default:
		s = fmt.Sprintf("%v", p)
	}
	if st.Phase == domain.Predicted {
		s += " (pending)"
	}
	return s
}
