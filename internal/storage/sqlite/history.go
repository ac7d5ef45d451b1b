package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	metaDND    = "dnd"
	metaNextID = "next_id"
)

// Action is a notification action as announced by the sender.
type Action struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// Row is one persisted notification.
type Row struct {
	ID            uint32
	AppName       string
	AppIcon       string
	Summary       string
	Body          string
	Actions       []Action
	Urgency       uint8
	Timestamp     time.Time
	ExpireTimeout int32
	DesktopEntry  string
	ImagePath     string
	Dismissed     bool
	Silent        bool
}

// State is the whole persisted history.
type State struct {
	// Rows are ordered oldest first.
	Rows []Row
	DND  bool
	// DNDSet is false when do-not-disturb was never persisted.
	DNDSet bool
	NextID uint32
}

const upsertSQL = `
INSERT INTO notifications (
	id, app_name, app_icon, summary, body, actions, urgency, timestamp,
	expire_timeout, desktop_entry, image_path, dismissed, silent
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	app_name = excluded.app_name,
	app_icon = excluded.app_icon,
	summary = excluded.summary,
	body = excluded.body,
	actions = excluded.actions,
	urgency = excluded.urgency,
	timestamp = excluded.timestamp,
	expire_timeout = excluded.expire_timeout,
	desktop_entry = excluded.desktop_entry,
	image_path = excluded.image_path,
	dismissed = excluded.dismissed,
	silent = excluded.silent`

const setMetaSQL = `INSERT INTO meta (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`

// Load reads the full history.
func (h *History) Load(ctx context.Context) (State, error) {
	var st State

	rows, err := h.db.QueryContext(ctx, `SELECT id, app_name, app_icon, summary, body, actions, urgency,
		timestamp, expire_timeout, desktop_entry, image_path, dismissed, silent
		FROM notifications ORDER BY timestamp, id`)
	if err != nil {
		return State{}, fmt.Errorf("sqlite storage: load notifications: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r       Row
			actions string
			ts      string
		)
		if err := rows.Scan(&r.ID, &r.AppName, &r.AppIcon, &r.Summary, &r.Body, &actions, &r.Urgency,
			&ts, &r.ExpireTimeout, &r.DesktopEntry, &r.ImagePath, &r.Dismissed, &r.Silent); err != nil {
			return State{}, fmt.Errorf("sqlite storage: scan notification: %w", err)
		}
		if r.Timestamp, err = parseTime(ts); err != nil {
			return State{}, fmt.Errorf("sqlite storage: notification %d: invalid timestamp %q", r.ID, ts)
		}
		if err := json.Unmarshal([]byte(actions), &r.Actions); err != nil {
			return State{}, fmt.Errorf("sqlite storage: notification %d: invalid actions: %w", r.ID, err)
		}
		st.Rows = append(st.Rows, r)
	}
	if err := rows.Err(); err != nil {
		return State{}, fmt.Errorf("sqlite storage: load notifications: %w", err)
	}

	meta, err := h.meta(ctx)
	if err != nil {
		return State{}, err
	}
	if v, ok := meta[metaDND]; ok {
		st.DND, st.DNDSet = v == "1", true
	}
	if v, ok := meta[metaNextID]; ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return State{}, fmt.Errorf("sqlite storage: invalid next_id %q", v)
		}
		st.NextID = uint32(n)
	}
	return st, nil
}

func (h *History) meta(ctx context.Context) (map[string]string, error) {
	rows, err := h.db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return nil, fmt.Errorf("sqlite storage: load meta: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("sqlite storage: scan meta: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Get returns the notification with id.
func (h *History) Get(ctx context.Context, id uint32) (Row, error) {
	if id == 0 {
		return Row{}, ErrInvalidNotificationID
	}
	st, err := h.Load(ctx)
	if err != nil {
		return Row{}, err
	}
	for _, r := range st.Rows {
		if r.ID == id {
			return r, nil
		}
	}
	return Row{}, fmt.Errorf("sqlite storage: get notification: %w: id %d", ErrNotificationNotFound, id)
}

// Save stores r, advances the id counter and removes evicted rows in one
// transaction.
func (h *History) Save(ctx context.Context, r Row, nextID uint32, evicted []uint32) error {
	if r.ID == 0 {
		return writeErr("save notification", ErrInvalidNotificationID)
	}
	return h.tx(ctx, "save notification", func(tx *sql.Tx) error {
		if err := h.upsert(ctx, tx, r); err != nil {
			return err
		}
		if err := h.deleteIDs(ctx, tx, evicted); err != nil {
			return err
		}
		_, err := h.exec(ctx, tx, setMetaSQL, metaNextID, strconv.FormatUint(uint64(nextID), 10))
		return err
	})
}

func (h *History) upsert(ctx context.Context, tx *sql.Tx, r Row) error {
	actions := r.Actions
	if actions == nil {
		actions = []Action{}
	}
	encoded, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("encode actions: %w", err)
	}
	_, err = h.exec(ctx, tx, upsertSQL,
		r.ID, r.AppName, r.AppIcon, r.Summary, r.Body, string(encoded), r.Urgency,
		formatTime(r.Timestamp), r.ExpireTimeout, r.DesktopEntry, r.ImagePath, r.Dismissed, r.Silent)
	return err
}

func (h *History) deleteIDs(ctx context.Context, tx *sql.Tx, ids []uint32) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := h.exec(ctx, tx, "DELETE FROM notifications WHERE id IN ("+placeholders+")", args...)
	return err
}

// Dismiss marks the notification with id as dismissed.
func (h *History) Dismiss(ctx context.Context, id uint32) error {
	if id == 0 {
		return writeErr("dismiss notification", ErrInvalidNotificationID)
	}
	return h.tx(ctx, "dismiss notification", func(tx *sql.Tx) error {
		res, err := h.exec(ctx, tx, `UPDATE notifications SET dismissed = 1 WHERE id = ?`, id)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("read rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: id %d", ErrNotificationNotFound, id)
		}
		return nil
	})
}

// Delete removes the notifications with the given ids.
func (h *History) Delete(ctx context.Context, ids []uint32) error {
	if len(ids) == 0 {
		return nil
	}
	return h.tx(ctx, "delete notifications", func(tx *sql.Tx) error {
		return h.deleteIDs(ctx, tx, ids)
	})
}

// Clear removes every notification in one transaction of two statements,
// independent of the history size. The id counter is kept.
func (h *History) Clear(ctx context.Context, nextID uint32) error {
	return h.tx(ctx, "clear notifications", func(tx *sql.Tx) error {
		if _, err := h.exec(ctx, tx, `DELETE FROM notifications`); err != nil {
			return err
		}
		_, err := h.exec(ctx, tx, setMetaSQL, metaNextID, strconv.FormatUint(uint64(nextID), 10))
		return err
	})
}

// SetDND persists the do-not-disturb flag.
func (h *History) SetDND(ctx context.Context, on bool) error {
	v := "0"
	if on {
		v = "1"
	}
	return h.tx(ctx, "set dnd", func(tx *sql.Tx) error {
		_, err := h.exec(ctx, tx, setMetaSQL, metaDND, v)
		return err
	})
}

// Replace overwrites the stored history with st.
func (h *History) Replace(ctx context.Context, st State) error {
	return h.tx(ctx, "replace history", func(tx *sql.Tx) error {
		if _, err := h.exec(ctx, tx, `DELETE FROM notifications`); err != nil {
			return err
		}
		for _, r := range st.Rows {
			if err := h.upsert(ctx, tx, r); err != nil {
				return err
			}
		}
		dnd := "0"
		if st.DND {
			dnd = "1"
		}
		if _, err := h.exec(ctx, tx, setMetaSQL, metaDND, dnd); err != nil {
			return err
		}
		_, err := h.exec(ctx, tx, setMetaSQL, metaNextID, strconv.FormatUint(uint64(st.NextID), 10))
		return err
	})
}

// IsNotFound reports whether err means the notification does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotificationNotFound)
}
