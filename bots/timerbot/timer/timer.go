package timer

import (
	"time"

	"github.com/pkg/errors"
)

// DefaultLimit is the longest timer accepted when no other limit is configured.
const DefaultLimit = 5999 * time.Minute

var ErrInvalidDuration = errors.New("invalid timer duration")

// Timer is a single countdown. Expired and Notified only ever change from false
// to true.
type Timer struct {
	Duration  time.Duration `json:"duration"`
	Label     string        `json:"label,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	Expired   bool          `json:"expired"`
	Notified  bool          `json:"notified"`
}

// Remaining returns time left until expiry; it's negative after expiry.
func (t Timer) Remaining(now time.Time) time.Duration {
	return t.ExpiresAt.Sub(now)
}

// Set keeps timers of a conversation in insertion order.
type Set struct {
	List []Timer `json:"timers"`
}

// Add appends a new timer running for d starting at now. Durations that aren't
// positive or exceed limit are rejected with ErrInvalidDuration. A non-positive
// limit means DefaultLimit.
func (s *Set) Add(d time.Duration, label string, now time.Time, limit time.Duration) (Timer, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	if d <= 0 || d > limit {
		return Timer{}, errors.Wrapf(ErrInvalidDuration, "%v isn't in range (0, %v]", d, limit)
	}

	t := Timer{
		Duration:  d,
		Label:     label,
		CreatedAt: now,
		ExpiresAt: now.Add(d),
	}
	s.List = append(s.List, t)
	return t, nil
}

// Tick marks timers that reached their expiry time as expired and notified.
// It returns only the timers that expired during this call.
func (s *Set) Tick(now time.Time) []Timer {
	var expired []Timer
	for i := range s.List {
		t := &s.List[i]
		if t.Expired || t.ExpiresAt.After(now) {
			continue
		}

		t.Expired = true
		t.Notified = true
		expired = append(expired, *t)
	}
	return expired
}

// AllExpired reports whether the set has timers and every one of them expired.
// An empty set is not "all expired".
func (s *Set) AllExpired() bool {
	if len(s.List) == 0 {
		return false
	}

	for _, t := range s.List {
		if !t.Expired {
			return false
		}
	}
	return true
}

func (s *Set) Clear() {
	s.List = nil
}

func (s *Set) Len() int {
	return len(s.List)
}

// Timers returns a copy of the timers.
func (s *Set) Timers() []Timer {
	return append([]Timer(nil), s.List...)
}
