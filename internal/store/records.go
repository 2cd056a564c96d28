package store

import (
	"time"

	"github.com/relaychat/coordinator/internal/wire"
)

// UserRecord is one row of the users collection.
type UserRecord struct {
	UserName     string          `json:"user_name"`
	PasswordHash wire.BytesValue `json:"user_password"`
	ViewCount    int             `json:"view_count"`
	LogOffTime   *time.Time      `json:"log_off_time"`
}

// MessageRecord is one row of the messages collection. Timestamp is kept as
// the ISO-8601 string it is persisted as, not a time.Time: spec §4.1
// requires that a range predicate over a timestamp field exclude, rather
// than fail on, a record whose stored value doesn't parse, and a string
// field is what lets a match function apply that rule per-record instead of
// failing the whole collection load.
type MessageRecord struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func parseTimestamp(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}
