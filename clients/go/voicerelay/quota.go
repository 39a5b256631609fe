package voicerelay

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// DefaultReplyLimit is the number of replies allowed per window.
	DefaultReplyLimit = 100

	// quotaWindow is a fixed 30 days measured from the last roll event,
	// not calendar-aligned. Rollover is lazy, evaluated on access.
	quotaWindow = 30 * 24 * time.Hour
)

// ErrQuotaExceeded means the rolling-window reply quota is used up.
// Distinguishable from every cryptographic failure so the UI can say
// "wait until the window rolls" rather than "re-authenticate".
var ErrQuotaExceeded = errors.New("reply quota exceeded for current window")

// UsageRecord is the single persisted usage counter for this identity.
type UsageRecord struct {
	MessagesUsed int       `json:"messages_used"`
	WindowStart  time.Time `json:"window_start"`
}

// QuotaTracker gates reply submission on a client-local rolling window.
// It owns its own file, separate from any other settings, and performs
// atomic read-modify-write under one mutex: concurrent replies cannot
// both pass the check before either increments.
type QuotaTracker struct {
	mu   sync.Mutex
	path string
	rec  UsageRecord
}

// NewQuotaTracker loads the usage record from path, creating a fresh
// window if none exists.
func NewQuotaTracker(path string) (*QuotaTracker, error) {
	q := &QuotaTracker{path: path}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &q.rec); err != nil {
			return nil, err
		}
	case os.IsNotExist(err):
		q.rec = UsageRecord{MessagesUsed: 0, WindowStart: time.Now().UTC()}
		if err := q.persist(); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	return q, nil
}

// CheckAndRoll resets the window if 30 days have elapsed, persists, and
// returns the current record. Called before every read or mutation so
// staleness is never observed.
func (q *QuotaTracker) CheckAndRoll(now time.Time) (UsageRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.rollLocked(now); err != nil {
		return UsageRecord{}, err
	}
	return q.rec, nil
}

// IsExceeded reports whether the limit is reached after rolling.
func (q *QuotaTracker) IsExceeded(limit int, now time.Time) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.rollLocked(now); err != nil {
		return false, err
	}
	return q.rec.MessagesUsed >= limit, nil
}

// Increment adds one used message after rolling, persists, and returns
// the new count. Exactly once per successfully sent reply; never on
// failed sends.
func (q *QuotaTracker) Increment(now time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.rollLocked(now); err != nil {
		return 0, err
	}
	q.rec.MessagesUsed++
	if err := q.persist(); err != nil {
		q.rec.MessagesUsed--
		return 0, err
	}
	return q.rec.MessagesUsed, nil
}

// Consume is the atomic check-then-increment used by the reply
// transition: roll, verify the limit, increment and persist, all under
// one lock.
func (q *QuotaTracker) Consume(limit int, now time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.rollLocked(now); err != nil {
		return 0, err
	}
	if q.rec.MessagesUsed >= limit {
		return q.rec.MessagesUsed, ErrQuotaExceeded
	}
	q.rec.MessagesUsed++
	if err := q.persist(); err != nil {
		q.rec.MessagesUsed--
		return 0, err
	}
	return q.rec.MessagesUsed, nil
}

func (q *QuotaTracker) rollLocked(now time.Time) error {
	if now.Sub(q.rec.WindowStart) < quotaWindow {
		return nil
	}
	q.rec = UsageRecord{MessagesUsed: 0, WindowStart: now}
	return q.persist()
}

// persist writes by temp-file-and-rename so a crash never leaves a
// half-written record.
func (q *QuotaTracker) persist() error {
	data, err := json.Marshal(q.rec)
	if err != nil {
		return err
	}
	tmp := q.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(q.path), 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, q.path)
}
