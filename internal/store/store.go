// Package store is the durable two-collection record store behind the
// chat service: users and messages, each serialized to its own JSON file
// under a data directory. See collection.go for the generic persistence
// engine and records.go for the row types.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"
)

// Store owns the users and messages collections. One Store exists per
// process; only the dispatcher operates on it directly, and writes
// replicated from the primary reach it through the dispatcher as well.
type Store struct {
	users    *collection[UserRecord]
	messages *collection[MessageRecord]
	seq      atomic.Uint64
}

// Open loads (or creates) users.json and messages.json under dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dataDir, err)
	}
	users, err := openCollection[UserRecord](filepath.Join(dataDir, "users.json"))
	if err != nil {
		return nil, fmt.Errorf("open users collection: %w", err)
	}
	messages, err := openCollection[MessageRecord](filepath.Join(dataDir, "messages.json"))
	if err != nil {
		return nil, fmt.Errorf("open messages collection: %w", err)
	}
	s := &Store{users: users, messages: messages}
	s.seq.Store(uint64(time.Now().UnixNano()))
	return s, nil
}

func (s *Store) nextMessageID() string {
	return fmt.Sprintf("%d", s.seq.Add(1))
}

// CreateUser inserts a new user row with the default view count, unless a
// user by that name already exists. The check and the insert happen under
// one collection lock, so concurrent registrations for the same name never
// both succeed.
func (s *Store) CreateUser(username string, passwordHash []byte) (created bool, err error) {
	rec := UserRecord{
		UserName:     username,
		PasswordHash: passwordHash,
		ViewCount:    5,
	}
	return s.users.insertIfAbsent(func(u UserRecord) bool { return u.UserName == username }, rec)
}

// GetUser returns the user row for username, if any.
func (s *Store) GetUser(username string) (UserRecord, bool) {
	matches := s.users.readWhere(func(u UserRecord) bool { return u.UserName == username })
	if len(matches) == 0 {
		return UserRecord{}, false
	}
	return matches[0], true
}

// AllUsernames returns every registered user name, in collection order.
func (s *Store) AllUsernames() []string {
	all := s.users.readWhere(func(UserRecord) bool { return true })
	names := make([]string, 0, len(all))
	for _, u := range all {
		names = append(names, u.UserName)
	}
	return names
}

// UpdateViewCount sets username's view count. Reports whether a matching
// user was found.
func (s *Store) UpdateViewCount(username string, count int) (bool, error) {
	n, err := s.users.updateWhere(
		func(u UserRecord) bool { return u.UserName == username },
		func(u *UserRecord) { u.ViewCount = count },
	)
	return n > 0, err
}

// SetLogOffTime records the instant username logged off.
func (s *Store) SetLogOffTime(username string, at time.Time) (bool, error) {
	n, err := s.users.updateWhere(
		func(u UserRecord) bool { return u.UserName == username },
		func(u *UserRecord) { t := at; u.LogOffTime = &t },
	)
	return n > 0, err
}

// DeleteUser removes username and every message where it appears as
// sender or receiver — sender-rows first, then receiver-rows — and
// finally the user row itself. Reports whether the user row was deleted.
func (s *Store) DeleteUser(username string) (bool, error) {
	if _, err := s.messages.deleteWhere(func(m MessageRecord) bool { return m.Sender == username }); err != nil {
		return false, err
	}
	if _, err := s.messages.deleteWhere(func(m MessageRecord) bool { return m.Receiver == username }); err != nil {
		return false, err
	}
	n, err := s.users.deleteWhere(func(u UserRecord) bool { return u.UserName == username })
	return n > 0, err
}

// InsertMessage stores a new message with the given timestamp and returns
// the stored record including its assigned id.
func (s *Store) InsertMessage(sender, receiver, text string, at time.Time) (MessageRecord, error) {
	rec := MessageRecord{
		ID:        s.nextMessageID(),
		Sender:    sender,
		Receiver:  receiver,
		Message:   text,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
	}
	if err := s.messages.insert(rec); err != nil {
		return MessageRecord{}, err
	}
	return rec, nil
}

// MessagesForUser returns every message where username is sender or
// receiver, bucketed by the other party and sorted ascending by timestamp
// within each bucket.
func (s *Store) MessagesForUser(username string) map[string][]MessageRecord {
	all := s.messages.readWhere(func(m MessageRecord) bool {
		return m.Sender == username || m.Receiver == username
	})
	out := make(map[string][]MessageRecord)
	for _, m := range all {
		other := m.Receiver
		if m.Sender != username {
			other = m.Sender
		}
		out[other] = append(out[other], m)
	}
	for k := range out {
		bucket := out[k]
		sort.SliceStable(bucket, func(i, j int) bool {
			ti, oki := parseTimestamp(bucket[i].Timestamp)
			tj, okj := parseTimestamp(bucket[j].Timestamp)
			if oki && okj {
				return ti.Before(tj)
			}
			return okj // unparseable timestamps sort after parseable ones
		})
		out[k] = bucket
	}
	return out
}

// DeleteMessage removes every message matching text/sender/receiver whose
// timestamp falls within one second of at. If nothing matches, it retries
// once against sender/receiver/text alone, dropping the timestamp
// predicate, and then removes every message that matches those.
func (s *Store) DeleteMessage(text, sender, receiver string, at time.Time) (bool, error) {
	const window = time.Second

	strict := func(m MessageRecord) bool {
		if m.Message != text || m.Sender != sender {
			return false
		}
		if receiver != "" && m.Receiver != receiver {
			return false
		}
		ts, ok := parseTimestamp(m.Timestamp)
		if !ok {
			return false
		}
		diff := ts.Sub(at)
		if diff < 0 {
			diff = -diff
		}
		return diff <= window
	}
	if n, err := s.messages.deleteWhere(strict); err != nil {
		return false, err
	} else if n > 0 {
		return true, nil
	}

	lenient := func(m MessageRecord) bool {
		if m.Message != text || m.Sender != sender {
			return false
		}
		if receiver != "" && m.Receiver != receiver {
			return false
		}
		return true
	}
	n, err := s.messages.deleteWhere(lenient)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
