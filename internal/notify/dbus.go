package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/vibepanel/vibepanel/internal/logging"
)

const (
	busName     = "org.freedesktop.Notifications"
	objectPath  = dbus.ObjectPath("/org/freedesktop/Notifications")
	iface       = "org.freedesktop.Notifications"
	specVersion = "1.2"
)

// Capabilities advertised to clients.
var Capabilities = []string{"body", "body-markup", "body-hyperlinks", "actions", "persistence", "icon-static"}

const introspectXML = `<node>
  <interface name="org.freedesktop.Notifications">
    <method name="Notify">
      <arg direction="in" name="app_name" type="s"/>
      <arg direction="in" name="replaces_id" type="u"/>
      <arg direction="in" name="app_icon" type="s"/>
      <arg direction="in" name="summary" type="s"/>
      <arg direction="in" name="body" type="s"/>
      <arg direction="in" name="actions" type="as"/>
      <arg direction="in" name="hints" type="a{sv}"/>
      <arg direction="in" name="expire_timeout" type="i"/>
      <arg direction="out" name="id" type="u"/>
    </method>
    <method name="CloseNotification">
      <arg direction="in" name="id" type="u"/>
    </method>
    <method name="GetCapabilities">
      <arg direction="out" name="capabilities" type="as"/>
    </method>
    <method name="GetServerInformation">
      <arg direction="out" name="name" type="s"/>
      <arg direction="out" name="vendor" type="s"/>
      <arg direction="out" name="version" type="s"/>
      <arg direction="out" name="spec_version" type="s"/>
    </method>
    <signal name="NotificationClosed">
      <arg name="id" type="u"/>
      <arg name="reason" type="u"/>
    </signal>
    <signal name="ActionInvoked">
      <arg name="id" type="u"/>
      <arg name="action_key" type="s"/>
    </signal>
  </interface>` + introspect.IntrospectDataString + `</node>`

// ErrNameTaken is returned by Run when another notification daemon owns the
// bus name.
var ErrNameTaken = errors.New("notify: another notification daemon is running")

// Conn is the part of *dbus.Conn the server uses.
type Conn interface {
	Export(v any, path dbus.ObjectPath, iface string) error
	Emit(path dbus.ObjectPath, name string, values ...any) error
	RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error)
	ReleaseName(name string) (dbus.ReleaseNameReply, error)
}

// Server serves the store as org.freedesktop.Notifications.
type Server struct {
	store   *Store
	conn    Conn
	version string
	logger  logging.Logger
	handler *handler
}

// NewServer creates a notification server for store on conn.
func NewServer(store *Store, conn Conn, version string, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Server{store: store, conn: conn, version: version, logger: logger}
	s.handler = &handler{server: s}
	return s
}

// Run claims the bus name and emits NotificationClosed for every record that
// leaves the active set until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.conn.Export(s.handler, objectPath, iface); err != nil {
		return fmt.Errorf("notify: export: %w", err)
	}
	if err := s.conn.Export(introspect.Introspectable(introspectXML), objectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("notify: export introspection: %w", err)
	}
	defer func() {
		_ = s.conn.Export(nil, objectPath, iface)
	}()

	reply, err := s.conn.RequestName(busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("notify: request name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return ErrNameTaken
	}
	defer func() {
		_, _ = s.conn.ReleaseName(busName)
	}()
	s.logger.Info("notification server ready", "name", busName)

	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-s.store.Closed():
			if err := s.conn.Emit(objectPath, iface+".NotificationClosed", c.ID, uint32(c.Reason)); err != nil {
				s.logger.Warn("emit NotificationClosed failed", "id", c.ID, "error", err)
			}
		}
	}
}

// InvokeAction signals that the user activated an action and closes the
// notification.
func (s *Server) InvokeAction(id uint32, key string) error {
	rec, ok := s.store.Get(id)
	if !ok {
		return fmt.Errorf("notify: invoke action on %d: %w", id, ErrNotFound)
	}
	if err := s.conn.Emit(objectPath, iface+".ActionInvoked", rec.ID, key); err != nil {
		return fmt.Errorf("notify: emit ActionInvoked: %w", err)
	}
	return s.store.Close(id, ReasonClosed)
}

// handler carries only the methods exported on the bus.
type handler struct {
	server *Server
}

func (h *handler) Notify(appName string, replacesID uint32, appIcon, summary, body string,
	actions []string, hints map[string]dbus.Variant, expireTimeout int32) (uint32, *dbus.Error) {
	rec := Record{
		ID:            replacesID,
		AppName:       appName,
		AppIcon:       appIcon,
		Summary:       summary,
		Body:          SanitizeBody(body),
		Urgency:       Normal,
		ExpireTimeout: expireTimeout,
	}
	for i := 0; i+1 < len(actions); i += 2 {
		rec.Actions = append(rec.Actions, Action{Key: actions[i], Label: actions[i+1]})
	}
	applyHints(&rec, hints)

	stored, err := h.server.store.Append(rec)
	if err != nil {
		// the record is kept in memory; only persistence failed
		h.server.logger.Warn("notification not persisted", "id", stored.ID, "error", err)
	}
	h.server.logger.Debug("notification received", "id", stored.ID, "app", stored.AppName, "urgency", stored.Urgency.String())
	return stored.ID, nil
}

func applyHints(rec *Record, hints map[string]dbus.Variant) {
	if v, ok := hints["urgency"]; ok {
		switch u := v.Value().(type) {
		case byte:
			rec.Urgency = clampUrgency(int64(u))
		case int32:
			rec.Urgency = clampUrgency(int64(u))
		case uint32:
			rec.Urgency = clampUrgency(int64(u))
		case int64:
			rec.Urgency = clampUrgency(u)
		}
	}
	if v, ok := hints["desktop-entry"]; ok {
		if s, ok := v.Value().(string); ok {
			rec.DesktopEntry = s
		}
	}
	for _, key := range []string{"image-path", "image_path"} {
		if v, ok := hints[key]; ok {
			if s, ok := v.Value().(string); ok && s != "" {
				rec.ImagePath = s
				break
			}
		}
	}
}

func (h *handler) CloseNotification(id uint32) *dbus.Error {
	err := h.server.store.Close(id, ReasonClosed)
	switch {
	case err == nil, errors.Is(err, ErrNotFound), errors.Is(err, ErrAlreadyDismissed):
	default:
		h.server.logger.Warn("close not persisted", "id", id, "error", err)
	}
	return nil
}

func (h *handler) GetCapabilities() ([]string, *dbus.Error) {
	return Capabilities, nil
}

func (h *handler) GetServerInformation() (string, string, string, string, *dbus.Error) {
	return "vibepanel", "vibepanel", h.server.version, specVersion, nil
}
