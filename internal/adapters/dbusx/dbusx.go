// Package dbusx wraps the godbus calls the D-Bus adapters share.
package dbusx

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/vibepanel/vibepanel/internal/adapters/source"
)

const (
	PropertiesIface    = "org.freedesktop.DBus.Properties"
	PropertiesChanged  = "PropertiesChanged"
	ObjectManagerIface = "org.freedesktop.DBus.ObjectManager"
	busIface           = "org.freedesktop.DBus"
)

// Bus selects the message bus to connect to.
type Bus int

const (
	SystemBus Bus = iota
	SessionBus
)

func (b Bus) String() string {
	if b == SessionBus {
		return "session"
	}
	return "system"
}

// Connect opens a private connection to b. The caller owns it and must
// close it. A bus that cannot be reached is reported as unavailable.
func Connect(b Bus) (*dbus.Conn, error) {
	var (
		conn *dbus.Conn
		err  error
	)
	if b == SessionBus {
		conn, err = dbus.ConnectSessionBus()
	} else {
		conn, err = dbus.ConnectSystemBus()
	}
	if err != nil {
		return nil, source.Unavailable(fmt.Sprintf("%s bus: %v", b, err))
	}
	return conn, nil
}

// HasOwner reports whether name is currently owned on conn's bus.
func HasOwner(ctx context.Context, conn *dbus.Conn, name string) (bool, error) {
	var ok bool
	err := conn.BusObject().CallWithContext(ctx, busIface+".NameHasOwner", 0, name).Store(&ok)
	return ok, err
}

// Probe connects to b and reports whether name has an owner.
func Probe(ctx context.Context, b Bus, name string) bool {
	conn, err := Connect(b)
	if err != nil {
		return false
	}
	defer conn.Close()
	ok, err := HasOwner(ctx, conn, name)
	return err == nil && ok
}

// ListNames returns every name on conn's bus.
func ListNames(ctx context.Context, conn *dbus.Conn) ([]string, error) {
	var names []string
	err := conn.BusObject().CallWithContext(ctx, busIface+".ListNames", 0).Store(&names)
	return names, err
}

// GetAll fetches every property of iface on obj.
func GetAll(ctx context.Context, obj dbus.BusObject, iface string) (Props, error) {
	var props map[string]dbus.Variant
	if err := obj.CallWithContext(ctx, PropertiesIface+".GetAll", 0, iface).Store(&props); err != nil {
		return nil, fmt.Errorf("get %s properties: %w", iface, err)
	}
	return Props(props), nil
}

// Set writes one property.
func Set(ctx context.Context, obj dbus.BusObject, iface, prop string, v any) error {
	return obj.CallWithContext(ctx, PropertiesIface+".Set", 0, iface, prop, dbus.MakeVariant(v)).Err
}

// ManagedObjects is the reply of ObjectManager.GetManagedObjects.
type ManagedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// GetManagedObjects lists the objects exported by an ObjectManager.
func GetManagedObjects(ctx context.Context, obj dbus.BusObject) (ManagedObjects, error) {
	var objs map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if err := obj.CallWithContext(ctx, ObjectManagerIface+".GetManagedObjects", 0).Store(&objs); err != nil {
		return nil, fmt.Errorf("get managed objects: %w", err)
	}
	return ManagedObjects(objs), nil
}

// IsServiceUnknown reports whether err means the destination has no owner.
func IsServiceUnknown(err error) bool {
	var name string
	var de dbus.Error
	var dep *dbus.Error
	switch {
	case errors.As(err, &de):
		name = de.Name
	case errors.As(err, &dep):
		name = dep.Name
	}
	return name == "org.freedesktop.DBus.Error.ServiceUnknown" ||
		name == "org.freedesktop.DBus.Error.NameHasNoOwner"
}

// Classify maps a call error to the adapter error taxonomy.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsServiceUnknown(err) {
		return source.Unavailable(op + ": " + err.Error())
	}
	return source.Transient(op, err)
}

// Signals is a filtered signal subscription on one connection.
type Signals struct {
	conn    *dbus.Conn
	ch      chan *dbus.Signal
	matches [][]dbus.MatchOption
}

// Watch adds one match rule per entry of matches and starts delivering
// signals. The channel is closed when the connection closes.
func Watch(conn *dbus.Conn, matches ...[]dbus.MatchOption) (*Signals, error) {
	s := &Signals{conn: conn, ch: make(chan *dbus.Signal, 32)}
	for _, m := range matches {
		if err := conn.AddMatchSignal(m...); err != nil {
			s.Close()
			return nil, fmt.Errorf("add match: %w", err)
		}
		s.matches = append(s.matches, m)
	}
	conn.Signal(s.ch)
	return s, nil
}

func (s *Signals) C() <-chan *dbus.Signal { return s.ch }

// Close removes the match rules. Errors are ignored since the connection
// may already be gone.
func (s *Signals) Close() {
	s.conn.RemoveSignal(s.ch)
	for _, m := range s.matches {
		_ = s.conn.RemoveMatchSignal(m...)
	}
}

// PropertiesMatch matches PropertiesChanged on path from sender.
func PropertiesMatch(sender string, path dbus.ObjectPath) []dbus.MatchOption {
	opts := []dbus.MatchOption{
		dbus.WithMatchInterface(PropertiesIface),
		dbus.WithMatchMember(PropertiesChanged),
	}
	if sender != "" {
		opts = append(opts, dbus.WithMatchSender(sender))
	}
	if path != "" {
		opts = append(opts, dbus.WithMatchObjectPath(path))
	}
	return opts
}

// PropertiesMatchNamespace matches PropertiesChanged on every object under path.
func PropertiesMatchNamespace(sender string, path dbus.ObjectPath) []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchSender(sender),
		dbus.WithMatchInterface(PropertiesIface),
		dbus.WithMatchMember(PropertiesChanged),
		dbus.WithMatchPathNamespace(path),
	}
}

// NameOwnerMatch matches NameOwnerChanged for names starting with prefix.
func NameOwnerMatch(prefix string) []dbus.MatchOption {
	opts := []dbus.MatchOption{
		dbus.WithMatchSender(busIface),
		dbus.WithMatchInterface(busIface),
		dbus.WithMatchMember("NameOwnerChanged"),
	}
	if prefix != "" {
		opts = append(opts, dbus.WithMatchArg0Namespace(prefix))
	}
	return opts
}

// ChangedProps decodes a PropertiesChanged signal body.
func ChangedProps(sig *dbus.Signal) (iface string, changed Props, ok bool) {
	if sig.Name != PropertiesIface+"."+PropertiesChanged || len(sig.Body) < 2 {
		return "", nil, false
	}
	iface, ok = sig.Body[0].(string)
	if !ok {
		return "", nil, false
	}
	m, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return "", nil, false
	}
	return iface, Props(m), true
}

// ErrClosed reports a connection whose signal channel was closed.
var ErrClosed = errors.New("bus connection closed")

// OwnerChange decodes a NameOwnerChanged signal.
func OwnerChange(sig *dbus.Signal) (name, oldOwner, newOwner string, ok bool) {
	if sig.Name != busIface+".NameOwnerChanged" || len(sig.Body) < 3 {
		return "", "", "", false
	}
	name, _ = sig.Body[0].(string)
	oldOwner, _ = sig.Body[1].(string)
	newOwner, _ = sig.Body[2].(string)
	return name, oldOwner, newOwner, true
}

// NameLost reports whether sig says name has lost its owner.
func NameLost(sig *dbus.Signal, name string) bool {
	n, _, owner, ok := OwnerChange(sig)
	return ok && n == name && owner == ""
}
