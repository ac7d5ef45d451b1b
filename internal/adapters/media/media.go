// Package media follows MPRIS players on the session bus and reports the
// one a widget should show.
package media

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/vibepanel/vibepanel/internal/adapters/dbusx"
	"github.com/vibepanel/vibepanel/internal/adapters/source"
	"github.com/vibepanel/vibepanel/internal/domain"
	"github.com/vibepanel/vibepanel/internal/logging"
)

const (
	namePrefix  = "org.mpris.MediaPlayer2."
	objectPath  = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	rootIface   = "org.mpris.MediaPlayer2"
	playerIface = "org.mpris.MediaPlayer2.Player"

	// DefaultInterval is how often the position of a playing track is sampled.
	DefaultInterval = time.Second

	eventKey = "media"
)

// ErrUnsupported is returned for a transport action the player does not offer.
var ErrUnsupported = errors.New("player does not support this action")

// Player is one MPRIS player as seen on the bus.
type Player struct {
	Name     string
	Identity string
	Props    dbusx.Props
}

func (p Player) status() string { return p.Props.String("PlaybackStatus") }

func (p Player) hasTitle() bool {
	return p.Props.Map("Metadata").String("xesam:title") != ""
}

// callFunc invokes a Player method on the named bus client.
type callFunc func(ctx context.Context, dest, method string) error

// Adapter is the media domain adapter.
type Adapter struct {
	*source.Emitter
	logger   logging.Logger
	interval time.Duration

	mu    sync.Mutex
	call  callFunc
	shown domain.MediaState
}

func New(interval time.Duration, logger logging.Logger) *Adapter {
	if logger == nil {
		logger = logging.Nop()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Adapter{Emitter: source.NewEmitter(domain.Media), logger: logger, interval: interval}
}

// Probe reports Ready when the session bus is reachable; players come and go.
func (a *Adapter) Probe(ctx context.Context) domain.Availability {
	if dbusx.Probe(ctx, dbusx.SessionBus, "org.freedesktop.DBus") {
		return domain.Ready
	}
	return domain.Unavailable
}

// selection remembers which player is shown across updates.
type selection struct {
	current     string
	lastPlaying string
	last        domain.MediaState
}

func (a *Adapter) Start(ctx context.Context) (source.Handle, error) {
	conn, err := dbusx.Connect(dbusx.SessionBus)
	if err != nil {
		return nil, err
	}
	sigs, err := dbusx.Watch(conn,
		dbusx.NameOwnerMatch(namePrefix[:len(namePrefix)-1]),
		append(dbusx.PropertiesMatch("", objectPath), dbus.WithMatchArg(0, playerIface)),
	)
	if err != nil {
		conn.Close()
		return nil, source.Transient("media watch", err)
	}
	release := func() error {
		a.mu.Lock()
		a.call, a.shown = nil, domain.MediaState{}
		a.mu.Unlock()
		sigs.Close()
		return conn.Close()
	}

	a.mu.Lock()
	a.call = busCall(conn)
	a.mu.Unlock()
	sel := &selection{}
	if err := a.update(ctx, conn, sel, true); err != nil {
		release()
		return nil, err
	}
	return source.Go(ctx, release, func(ctx context.Context) error {
		tick := time.NewTicker(a.interval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case _, ok := <-sigs.C():
				if !ok {
					return source.Transient("media", dbusx.ErrClosed)
				}
				if err := a.update(ctx, conn, sel, false); err != nil {
					return err
				}
			case <-tick.C:
				if sel.last.Status != domain.Playing {
					continue
				}
				if err := a.update(ctx, conn, sel, false); err != nil {
					return err
				}
			}
		}
	}), nil
}

func (a *Adapter) update(ctx context.Context, conn *dbus.Conn, sel *selection, force bool) error {
	players, err := a.players(ctx, conn)
	if err != nil {
		return err
	}
	next := domain.MediaState{}
	if p, ok := Select(players, sel.current, sel.lastPlaying); ok {
		sel.current = p.Name
		if p.status() == domain.Playing {
			sel.lastPlaying = p.Name
		}
		next = FromPlayer(p)
	} else {
		sel.current = ""
	}
	if !force && reflect.DeepEqual(next, sel.last) {
		return nil
	}
	sel.last = next
	a.mu.Lock()
	a.shown = next
	a.mu.Unlock()
	return a.Emit(ctx, eventKey, next)
}

func busCall(conn *dbus.Conn) callFunc {
	return func(ctx context.Context, dest, method string) error {
		err := conn.Object(dest, objectPath).CallWithContext(ctx, playerIface+"."+method, 0).Err
		return dbusx.Classify("media "+method, err)
	}
}

// Method names the MPRIS Player method for an action.
func Method(action domain.PlayerAction) string {
	switch action {
	case domain.PlayPause:
		return "PlayPause"
	case domain.Next:
		return "Next"
	case domain.Previous:
		return "Previous"
	}
	return "Stop"
}

// Transport sends action to the shown player. Play-pause and stop are
// predicted while the adapter runs. Without a running adapter a session
// bus connection is opened for the call and the player is picked the same
// way the widget picks it.
func (a *Adapter) Transport(ctx context.Context, action domain.PlayerAction) error {
	a.mu.Lock()
	call, shown := a.call, a.shown
	a.mu.Unlock()
	if call == nil {
		return a.transportOnce(ctx, action)
	}
	if err := check(shown, action); err != nil {
		return err
	}
	apply := func(ctx context.Context) error { return call(ctx, shown.Player, Method(action)) }
	if action != domain.PlayPause && action != domain.Stop {
		return apply(ctx)
	}
	return a.Attempt(ctx, eventKey, shown.After(action), shown, apply)
}

func (a *Adapter) transportOnce(ctx context.Context, action domain.PlayerAction) error {
	conn, err := dbusx.Connect(dbusx.SessionBus)
	if err != nil {
		return err
	}
	defer conn.Close()
	players, err := a.players(ctx, conn)
	if err != nil {
		return err
	}
	p, _ := Select(players, "", "")
	st := domain.MediaState{}
	if p.Name != "" {
		st = FromPlayer(p)
	}
	if err := check(st, action); err != nil {
		return err
	}
	return busCall(conn)(ctx, st.Player, Method(action))
}

// Status returns the state of the player the widget would show, reading
// it from the bus when the adapter is not running.
func (a *Adapter) Status(ctx context.Context) (domain.MediaState, error) {
	a.mu.Lock()
	running, shown := a.call != nil, a.shown
	a.mu.Unlock()
	if running {
		return shown, nil
	}
	conn, err := dbusx.Connect(dbusx.SessionBus)
	if err != nil {
		return domain.MediaState{}, err
	}
	defer conn.Close()
	players, err := a.players(ctx, conn)
	if err != nil {
		return domain.MediaState{}, err
	}
	if p, ok := Select(players, "", ""); ok {
		return FromPlayer(p), nil
	}
	return domain.MediaState{}, nil
}

func check(st domain.MediaState, action domain.PlayerAction) error {
	if st.Player == "" {
		return source.Unavailable("no media player")
	}
	if !st.Allows(action) {
		return fmt.Errorf("%s %s: %w", st.Identity, action, ErrUnsupported)
	}
	return nil
}

func (a *Adapter) players(ctx context.Context, conn *dbus.Conn) ([]Player, error) {
	names, err := dbusx.ListNames(ctx, conn)
	if err != nil {
		return nil, dbusx.Classify("list names", err)
	}
	var out []Player
	for _, name := range names {
		if !strings.HasPrefix(name, namePrefix) {
			continue
		}
		obj := conn.Object(name, objectPath)
		props, err := dbusx.GetAll(ctx, obj, playerIface)
		if err != nil {
			// players vanish between ListNames and GetAll
			continue
		}
		p := Player{Name: name, Props: props}
		if root, err := dbusx.GetAll(ctx, obj, rootIface); err == nil {
			p.Identity = root.String("Identity")
		}
		out = append(out, p)
	}
	return out, nil
}

// Select picks the player to show: the last playing one while it still
// plays, then any playing player, then a paused player with a track
// (preferring the last playing one, then the current one), then the
// current player, then the first by name.
func Select(players []Player, current, lastPlaying string) (Player, bool) {
	if len(players) == 0 {
		return Player{}, false
	}
	sorted := append([]Player(nil), players...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	byName := make(map[string]Player, len(sorted))
	for _, p := range sorted {
		byName[p.Name] = p
	}
	if p, ok := byName[lastPlaying]; ok && p.status() == domain.Playing {
		return p, true
	}
	for _, p := range sorted {
		if p.status() == domain.Playing {
			return p, true
		}
	}
	for _, name := range []string{lastPlaying, current} {
		if p, ok := byName[name]; ok && p.status() == domain.Paused && p.hasTitle() {
			return p, true
		}
	}
	for _, p := range sorted {
		if p.status() == domain.Paused && p.hasTitle() {
			return p, true
		}
	}
	if p, ok := byName[current]; ok {
		return p, true
	}
	return sorted[0], true
}

// FromPlayer converts a player's properties.
func FromPlayer(p Player) domain.MediaState {
	meta := p.Props.Map("Metadata")
	st := domain.MediaState{
		Player:        p.Name,
		Identity:      p.Identity,
		Status:        p.status(),
		Title:         meta.String("xesam:title"),
		Artist:        strings.Join(meta.Strings("xesam:artist"), ", "),
		Album:         meta.String("xesam:album"),
		ArtURL:        meta.String("mpris:artUrl"),
		Position:      microseconds(p.Props.Int64("Position")),
		Length:        microseconds(meta.Int64("mpris:length")),
		CanGoNext:     p.Props.Bool("CanGoNext"),
		CanGoPrevious: p.Props.Bool("CanGoPrevious"),
		CanPause:      p.Props.Bool("CanPause"),
	}
	if st.Identity == "" {
		st.Identity = strings.TrimPrefix(p.Name, namePrefix)
	}
	switch st.Status {
	case domain.Playing, domain.Paused, domain.Stopped:
	default:
		st.Status = domain.Stopped
	}
	return st
}

func microseconds(us int64) time.Duration {
	return time.Duration(max(us, 0)) * time.Microsecond
}
