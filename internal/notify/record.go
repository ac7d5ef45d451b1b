// Package notify keeps the notification history and the do-not-disturb state,
// and serves them as the session notification daemon.
package notify

import (
	"fmt"
	"strings"
	"time"
)

// Urgency is the freedesktop notification urgency level.
type Urgency uint8

const (
	Low Urgency = iota
	Normal
	Critical
)

func (u Urgency) String() string {
	switch u {
	case Low:
		return "low"
	case Normal:
		return "normal"
	case Critical:
		return "critical"
	}
	return fmt.Sprintf("urgency(%d)", uint8(u))
}

// MarshalText encodes the urgency by name.
func (u Urgency) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText decodes an urgency name.
func (u *Urgency) UnmarshalText(text []byte) error {
	v, err := ParseUrgency(string(text))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// ParseUrgency parses "low", "normal" or "critical".
func ParseUrgency(s string) (Urgency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return Low, nil
	case "normal", "":
		return Normal, nil
	case "critical":
		return Critical, nil
	}
	return Normal, fmt.Errorf("invalid urgency %q: must be low, normal or critical", s)
}

// clampUrgency maps out-of-range values sent by clients onto the valid range.
func clampUrgency(v int64) Urgency {
	switch {
	case v <= 0:
		return Low
	case v >= 2:
		return Critical
	}
	return Normal
}

// CloseReason is why a notification was closed.
type CloseReason uint32

const (
	ReasonExpired   CloseReason = 1
	ReasonDismissed CloseReason = 2
	ReasonClosed    CloseReason = 3
	ReasonUndefined CloseReason = 4
)

// Action is an action offered by a notification.
type Action struct {
	Key   string `json:"key" yaml:"key"`
	Label string `json:"label" yaml:"label"`
}

// Record is one notification in the history.
type Record struct {
	ID            uint32    `json:"id" yaml:"id"`
	AppName       string    `json:"app_name" yaml:"app_name"`
	AppIcon       string    `json:"app_icon,omitempty" yaml:"app_icon,omitempty"`
	Summary       string    `json:"summary" yaml:"summary"`
	Body          string    `json:"body" yaml:"body"`
	Actions       []Action  `json:"actions,omitempty" yaml:"actions,omitempty"`
	Urgency       Urgency   `json:"urgency" yaml:"urgency"`
	Timestamp     time.Time `json:"timestamp" yaml:"timestamp"`
	ExpireTimeout int32     `json:"expire_timeout" yaml:"expire_timeout"`
	DesktopEntry  string    `json:"desktop_entry,omitempty" yaml:"desktop_entry,omitempty"`
	ImagePath     string    `json:"image_path,omitempty" yaml:"image_path,omitempty"`
	Dismissed     bool      `json:"dismissed" yaml:"dismissed"`
	// Silent is set when the record arrived during do-not-disturb. The UI must
	// not present it transiently.
	Silent bool `json:"silent" yaml:"silent"`
	// Restored is set for records loaded from a previous session.
	Restored bool `json:"restored,omitempty" yaml:"restored,omitempty"`
}

// Toast reports whether the UI should pop the record up on screen.
func (r Record) Toast() bool {
	return !r.Silent && !r.Restored && !r.Dismissed
}

func (r Record) clone() Record {
	if r.Actions != nil {
		r.Actions = append([]Action(nil), r.Actions...)
	}
	return r
}

// Filter selects records in List.
type Filter struct {
	IncludeDismissed bool
	AppName          string
	MinUrgency       Urgency
	Since            time.Time
	Limit            int
}

func (f Filter) match(r Record) bool {
	if r.Dismissed && !f.IncludeDismissed {
		return false
	}
	if f.AppName != "" && !strings.EqualFold(f.AppName, r.AppName) {
		return false
	}
	if r.Urgency < f.MinUrgency {
		return false
	}
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// View is the published state of the store.
type View struct {
	// Records are ordered newest first and include dismissed records.
	Records []Record `json:"records" yaml:"records"`
	DND     bool     `json:"dnd" yaml:"dnd"`
	Active  int      `json:"active" yaml:"active"`
}

// Closed is emitted whenever a notification leaves the active set.
type Closed struct {
	ID     uint32
	Reason CloseReason
}
