// Package tray tracks StatusNotifierItems through an external
// StatusNotifierWatcher on the session bus.
package tray

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/vibepanel/vibepanel/internal/adapters/dbusx"
	"github.com/vibepanel/vibepanel/internal/adapters/source"
	"github.com/vibepanel/vibepanel/internal/domain"
	"github.com/vibepanel/vibepanel/internal/logging"
)

const (
	watcherName  = "org.kde.StatusNotifierWatcher"
	watcherPath  = dbus.ObjectPath("/StatusNotifierWatcher")
	watcherIface = "org.kde.StatusNotifierWatcher"
	itemIface    = "org.kde.StatusNotifierItem"
	defaultPath  = "/StatusNotifierItem"

	eventKey = "tray"
)

// Adapter is the tray domain adapter.
type Adapter struct {
	*source.Emitter
	logger logging.Logger
}

func New(logger logging.Logger) *Adapter {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Adapter{Emitter: source.NewEmitter(domain.Tray), logger: logger}
}

func (a *Adapter) Probe(ctx context.Context) domain.Availability {
	if dbusx.Probe(ctx, dbusx.SessionBus, watcherName) {
		return domain.Ready
	}
	return domain.Unavailable
}

func (a *Adapter) Start(ctx context.Context) (source.Handle, error) {
	conn, err := dbusx.Connect(dbusx.SessionBus)
	if err != nil {
		return nil, err
	}
	sigs, err := dbusx.Watch(conn,
		[]dbus.MatchOption{dbus.WithMatchSender(watcherName), dbus.WithMatchInterface(watcherIface)},
		[]dbus.MatchOption{dbus.WithMatchInterface(itemIface)},
		dbusx.NameOwnerMatch(watcherName),
	)
	if err != nil {
		conn.Close()
		return nil, source.Transient("tray watch", err)
	}
	release := func() error {
		sigs.Close()
		return conn.Close()
	}

	a.registerHost(ctx, conn)
	st, err := a.query(ctx, conn)
	if err != nil {
		release()
		return nil, err
	}
	if err := a.Emit(ctx, eventKey, st); err != nil {
		release()
		return nil, err
	}
	return source.Go(ctx, release, func(ctx context.Context) error {
		last := st
		for {
			select {
			case <-ctx.Done():
				return nil
			case sig, ok := <-sigs.C():
				if !ok {
					return source.Transient("tray", dbusx.ErrClosed)
				}
				if dbusx.NameLost(sig, watcherName) {
					return source.Unavailable("status notifier watcher stopped")
				}
				if _, _, _, ok := dbusx.OwnerChange(sig); ok {
					continue
				}
				next, err := a.query(ctx, conn)
				if err != nil {
					return err
				}
				if reflect.DeepEqual(next, last) {
					continue
				}
				last = next
				if err := a.Emit(ctx, eventKey, next); err != nil {
					return nil
				}
			}
		}
	}), nil
}

// registerHost announces this process as a tray host so that items
// fall back to their icons instead of legacy XEmbed windows.
func (a *Adapter) registerHost(ctx context.Context, conn *dbus.Conn) {
	name := fmt.Sprintf("org.kde.StatusNotifierHost-%d", os.Getpid())
	if _, err := conn.RequestName(name, dbus.NameFlagDoNotQueue); err != nil {
		a.logger.Debug("tray host name not acquired", "error", err)
		return
	}
	call := conn.Object(watcherName, watcherPath).CallWithContext(ctx, watcherIface+".RegisterStatusNotifierHost", 0, name)
	if call.Err != nil {
		a.logger.Debug("tray host registration failed", "error", call.Err)
	}
}

func (a *Adapter) query(ctx context.Context, conn *dbus.Conn) (domain.TrayState, error) {
	var v dbus.Variant
	err := conn.Object(watcherName, watcherPath).
		CallWithContext(ctx, dbusx.PropertiesIface+".Get", 0, watcherIface, "RegisteredStatusNotifierItems").
		Store(&v)
	if err != nil {
		return domain.TrayState{}, dbusx.Classify("status notifier watcher", err)
	}
	registered, _ := v.Value().([]string)

	st := domain.TrayState{Items: []domain.TrayItem{}}
	seen := make(map[string]bool, len(registered))
	for _, entry := range registered {
		service, path := SplitItem(entry)
		if seen[service+path] {
			continue
		}
		seen[service+path] = true
		item := domain.TrayItem{Service: service, Path: path}
		if props, err := dbusx.GetAll(ctx, conn.Object(service, dbus.ObjectPath(path)), itemIface); err == nil {
			item = FromProps(service, path, props)
		} else {
			a.logger.Debug("tray item properties unavailable", "service", service, "error", err)
		}
		st.Items = append(st.Items, item)
	}
	sort.SliceStable(st.Items, func(i, j int) bool { return st.Items[i].Service < st.Items[j].Service })
	return st, nil
}

// SplitItem splits a registered item entry into bus name and object path.
// Entries that carry only a bus name use the default item path.
func SplitItem(entry string) (service, path string) {
	if i := strings.Index(entry, "/"); i > 0 {
		return entry[:i], entry[i:]
	}
	return entry, defaultPath
}

// FromProps converts StatusNotifierItem properties.
func FromProps(service, path string, p dbusx.Props) domain.TrayItem {
	return domain.TrayItem{
		Service:  service,
		Path:     path,
		ID:       p.String("Id"),
		Title:    p.String("Title"),
		IconName: p.String("IconName"),
		Status:   p.String("Status"),
	}
}
