package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	name   string
	values []any
}

type fakeConn struct {
	mu       sync.Mutex
	exported map[string]any
	signals  []emitted
	reply    dbus.RequestNameReply
	released bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{exported: make(map[string]any), reply: dbus.RequestNameReplyPrimaryOwner}
}

func (c *fakeConn) Export(v any, _ dbus.ObjectPath, iface string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exported[iface] = v
	return nil
}

func (c *fakeConn) Emit(_ dbus.ObjectPath, name string, values ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signals = append(c.signals, emitted{name: name, values: values})
	return nil
}

func (c *fakeConn) RequestName(string, dbus.RequestNameFlags) (dbus.RequestNameReply, error) {
	return c.reply, nil
}

func (c *fakeConn) ReleaseName(string) (dbus.ReleaseNameReply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = true
	return dbus.ReleaseNameReplyReleased, nil
}

func (c *fakeConn) signalNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.signals))
	for _, s := range c.signals {
		names = append(names, s.name)
	}
	return names
}

func TestNotifyStoresSanitizedRecord(t *testing.T) {
	s, _ := newTestStore(t, Options{}, nil)
	srv := NewServer(s, newFakeConn(), "1.0.0", nil)

	id, derr := srv.handler.Notify("mail", 0, "mail-icon", "Hello", "<b>hi</b><script>x</script>",
		[]string{"default", "Open", "reply"},
		map[string]dbus.Variant{
			"urgency":       dbus.MakeVariant(byte(2)),
			"desktop-entry": dbus.MakeVariant("org.mail"),
			"image-path":    dbus.MakeVariant("/tmp/avatar.png"),
		}, 5000)
	require.Nil(t, derr)

	rec, ok := s.Get(id)
	require.True(t, ok)
	require.Equal(t, "<b>hi</b>", rec.Body)
	require.Equal(t, Critical, rec.Urgency)
	require.Equal(t, "org.mail", rec.DesktopEntry)
	require.Equal(t, "/tmp/avatar.png", rec.ImagePath)
	require.Equal(t, []Action{{Key: "default", Label: "Open"}}, rec.Actions, "unpaired action is ignored")
	require.Equal(t, int32(5000), rec.ExpireTimeout)
}

func TestNotifyReplacesID(t *testing.T) {
	s, _ := newTestStore(t, Options{}, nil)
	srv := NewServer(s, newFakeConn(), "1.0.0", nil)

	id, _ := srv.handler.Notify("app", 0, "", "v1", "", nil, nil, -1)
	again, _ := srv.handler.Notify("app", id, "", "v2", "", nil, nil, -1)
	require.Equal(t, id, again)
	require.Len(t, s.List(Filter{}), 1)
}

func TestServerInformation(t *testing.T) {
	s, _ := newTestStore(t, Options{}, nil)
	srv := NewServer(s, newFakeConn(), "1.2.3", nil)

	caps, _ := srv.handler.GetCapabilities()
	require.Contains(t, caps, "persistence")
	require.Contains(t, caps, "body-markup")

	name, vendor, version, specVersion, _ := srv.handler.GetServerInformation()
	require.Equal(t, "vibepanel", name)
	require.Equal(t, "vibepanel", vendor)
	require.Equal(t, "1.2.3", version)
	require.Equal(t, "1.2", specVersion)
}

func TestRunEmitsClosedSignals(t *testing.T) {
	s, _ := newTestStore(t, Options{}, nil)
	conn := newFakeConn()
	srv := NewServer(s, conn, "1.0.0", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	id, _ := srv.handler.Notify("app", 0, "", "x", "", nil, nil, -1)
	require.Nil(t, srv.handler.CloseNotification(id))
	require.Nil(t, srv.handler.CloseNotification(id), "closing twice is not an error on the bus")

	require.Eventually(t, func() bool {
		return len(conn.signalNames()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"org.freedesktop.Notifications.NotificationClosed"}, conn.signalNames())

	cancel()
	require.NoError(t, <-done)
	require.True(t, conn.released)
	require.Contains(t, conn.exported, "org.freedesktop.DBus.Introspectable")
}

func TestRunFailsWhenNameTaken(t *testing.T) {
	s, _ := newTestStore(t, Options{}, nil)
	conn := newFakeConn()
	conn.reply = dbus.RequestNameReplyExists

	err := NewServer(s, conn, "1.0.0", nil).Run(context.Background())
	require.ErrorIs(t, err, ErrNameTaken)
}

func TestInvokeAction(t *testing.T) {
	s, _ := newTestStore(t, Options{}, nil)
	conn := newFakeConn()
	srv := NewServer(s, conn, "1.0.0", nil)

	id, _ := srv.handler.Notify("app", 0, "", "x", "", []string{"default", "Open"}, nil, -1)
	require.NoError(t, srv.InvokeAction(id, "default"))
	require.Equal(t, []string{"org.freedesktop.Notifications.ActionInvoked"}, conn.signalNames())

	rec, _ := s.Get(id)
	require.True(t, rec.Dismissed)
	require.Equal(t, Closed{ID: id, Reason: ReasonClosed}, <-s.Closed())

	require.ErrorIs(t, srv.InvokeAction(999, "default"), ErrNotFound)
}
