package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestHistory(t *testing.T) *History {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "notifications.db")
	h, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, h.Close())
	})

	return h
}

func row(id uint32, ts time.Time) Row {
	return Row{
		ID:            id,
		AppName:       "mail",
		Summary:       "New message",
		Body:          "café ☕ <b>bold</b>",
		Actions:       []Action{{Key: "default", Label: "Open"}},
		Urgency:       2,
		Timestamp:     ts,
		ExpireTimeout: -1,
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

func TestSaveAndLoad(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()
	ts := time.Date(2026, 1, 2, 3, 4, 5, 123456789, time.UTC)

	require.NoError(t, h.Save(ctx, row(1, ts), 2, nil))
	require.NoError(t, h.Save(ctx, row(2, ts.Add(time.Second)), 3, nil))

	st, err := h.Load(ctx)
	require.NoError(t, err)
	require.Len(t, st.Rows, 2)
	require.Equal(t, uint32(3), st.NextID)
	require.False(t, st.DNDSet)
	require.Equal(t, row(1, ts), st.Rows[0])
	require.Equal(t, uint32(2), st.Rows[1].ID)
}

func TestSaveReplacesExistingID(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, h.Save(ctx, row(1, ts), 2, nil))
	updated := row(1, ts)
	updated.Summary = "Updated"
	require.NoError(t, h.Save(ctx, updated, 2, nil))

	got, err := h.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "Updated", got.Summary)
}

func TestSaveEvictsInSameTransaction(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, h.Save(ctx, row(1, ts), 2, nil))
	require.NoError(t, h.Save(ctx, row(2, ts), 3, nil))
	require.NoError(t, h.Save(ctx, row(3, ts), 4, []uint32{1, 2}))

	st, err := h.Load(ctx)
	require.NoError(t, err)
	require.Len(t, st.Rows, 1)
	require.Equal(t, uint32(3), st.Rows[0].ID)
}

func TestDismiss(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()
	require.NoError(t, h.Save(ctx, row(1, time.Now()), 2, nil))

	require.NoError(t, h.Dismiss(ctx, 1))
	got, err := h.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, got.Dismissed)

	err = h.Dismiss(ctx, 42)
	require.ErrorIs(t, err, ErrNotificationNotFound)
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "dismiss notification", pe.Op)

	require.ErrorIs(t, h.Dismiss(ctx, 0), ErrInvalidNotificationID)
}

func TestClearIsConstantWrites(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	rows := make([]Row, 0, 500)
	for i := 1; i <= 500; i++ {
		rows = append(rows, row(uint32(i), base.Add(time.Duration(i)*time.Millisecond)))
	}
	require.NoError(t, h.Replace(ctx, State{Rows: rows, NextID: 501}))

	before := h.Writes()
	require.NoError(t, h.Clear(ctx, 501))
	require.Equal(t, uint64(2), h.Writes()-before)

	st, err := h.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, st.Rows)
	require.Equal(t, uint32(501), st.NextID)
}

func TestSetDNDPersists(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "notifications.db")
	h, err := Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, h.SetDND(context.Background(), true))
	require.NoError(t, h.Close())

	h, err = Open(dbPath)
	require.NoError(t, err)
	defer h.Close()

	st, err := h.Load(context.Background())
	require.NoError(t, err)
	require.True(t, st.DNDSet)
	require.True(t, st.DND)
}

func TestDeleteAndGetNotFound(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()
	require.NoError(t, h.Save(ctx, row(7, time.Now()), 8, nil))

	require.NoError(t, h.Delete(ctx, []uint32{7}))
	_, err := h.Get(ctx, 7)
	require.True(t, IsNotFound(err))
}
