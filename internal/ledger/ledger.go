package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pixel-hosting/dtr/internal/model"
)

// ErrInvalidAction marks malformed moderation input. The ledger is untouched
// when Apply returns it.
var ErrInvalidAction = errors.New("invalid moderation action")

// Ledger owns the in-memory moderation state: warning counters, global ban
// records, and the session-ban set. All three are guarded by one mutex so a
// warn's increment-then-threshold-check sequence cannot interleave with
// another warn for the same player. State lives for the process lifetime
// only; it is never persisted or restored.
type Ledger struct {
	now func() time.Time

	mu          sync.Mutex
	warnings    map[string]*model.WarningRecord
	globalBans  map[string]model.BanRecord
	sessionBans map[string]struct{}
}

func New() *Ledger {
	return NewWithClock(time.Now)
}

func NewWithClock(now func() time.Time) *Ledger {
	return &Ledger{
		now:         now,
		warnings:    make(map[string]*model.WarningRecord),
		globalBans:  make(map[string]model.BanRecord),
		sessionBans: make(map[string]struct{}),
	}
}

// Apply validates the action, mutates ledger state, and returns the ordered
// events that must reach every universe. Mutations are committed before the
// events are handed back; the lock is never held across broadcast I/O.
func (l *Ledger) Apply(a model.Action) ([]model.Event, error) {
	if err := validate(a); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch a.Kind {
	case model.ActionWarn:
		return l.applyWarn(a), nil
	case model.ActionKick:
		return []model.Event{{Type: model.EventKick, UserID: a.UserID, Reason: a.Reason}}, nil
	case model.ActionBanServer:
		l.sessionBans[a.UserID] = struct{}{}
		return []model.Event{{Type: model.EventBanSession, UserID: a.UserID, Reason: a.Reason}}, nil
	case model.ActionBanGlobal:
		l.globalBans[a.UserID] = model.BanRecord{Reason: a.Reason}
		return []model.Event{{Type: model.EventBanGlobal, UserID: a.UserID, Reason: a.Reason}}, nil
	case model.ActionBanTemp:
		expiresAt := l.now().Add(time.Duration(a.Duration) * time.Second)
		l.globalBans[a.UserID] = model.BanRecord{Reason: a.Reason, ExpiresAt: &expiresAt}
		return []model.Event{{
			Type:      model.EventBanTemp,
			UserID:    a.UserID,
			Reason:    a.Reason,
			ExpiresAt: expiresAt.UnixMilli(),
		}}, nil
	case model.ActionUnban:
		delete(l.globalBans, a.UserID)
		delete(l.sessionBans, a.UserID)
		return []model.Event{{Type: model.EventUnban, UserID: a.UserID}}, nil
	}
	// validate rejects unknown kinds before we get here.
	return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidAction, a.Kind)
}

func (l *Ledger) applyWarn(a model.Action) []model.Event {
	rec := l.warnings[a.UserID]
	if rec == nil {
		rec = &model.WarningRecord{}
		l.warnings[a.UserID] = rec
	}
	rec.SessionCount++
	rec.GlobalCount++

	events := escalate(*rec, a.UserID)
	for _, ev := range events {
		switch ev.Type {
		case model.EventBanSession:
			l.sessionBans[a.UserID] = struct{}{}
		case model.EventBanGlobal:
			l.globalBans[a.UserID] = model.BanRecord{Reason: ev.Reason}
		}
	}
	return append(events, model.Event{Type: model.EventWarn, UserID: a.UserID, Reason: a.Reason})
}

// escalate maps post-increment warning counts to derived events. Session
// thresholds use == so they fire exactly once, on the warn that reaches the
// threshold. The global threshold uses >= on purpose: every warn past five
// re-asserts the global ban to all universes.
func escalate(rec model.WarningRecord, userID string) []model.Event {
	var events []model.Event
	if rec.SessionCount == 2 {
		events = append(events, model.Event{Type: model.EventKick, UserID: userID, Reason: "2 warnings this session"})
	}
	if rec.SessionCount == 3 {
		events = append(events, model.Event{Type: model.EventBanSession, UserID: userID, Reason: "3 warnings this session"})
	}
	if rec.GlobalCount >= 5 {
		events = append(events, model.Event{Type: model.EventBanGlobal, UserID: userID, Reason: "5 warnings globally"})
	}
	return events
}

func validate(a model.Action) error {
	if a.UserID == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalidAction)
	}
	switch a.Kind {
	case model.ActionWarn, model.ActionKick, model.ActionBanServer, model.ActionBanGlobal, model.ActionUnban:
	case model.ActionBanTemp:
		if a.Duration <= 0 {
			return fmt.Errorf("%w: duration must be a positive number of seconds", ErrInvalidAction)
		}
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidAction, a.Kind)
	}
	return nil
}

// Ban returns the global ban record for a player. Records past their expiry
// still count as banned until an unban or the expiry sweep removes them.
func (l *Ledger) Ban(userID string) (model.BanRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.globalBans[userID]
	return rec, ok
}

func (l *Ledger) SessionBanned(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.sessionBans[userID]
	return ok
}

func (l *Ledger) Warnings(userID string) model.WarningRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec := l.warnings[userID]; rec != nil {
		return *rec
	}
	return model.WarningRecord{}
}

// Bans returns a snapshot copy of the global ban map.
func (l *Ledger) Bans() map[string]model.BanRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]model.BanRecord, len(l.globalBans))
	for id, rec := range l.globalBans {
		out[id] = rec
	}
	return out
}

// SweepExpiredBans removes global ban records whose expiry is before now and
// returns the affected player ids. Apply never expires records itself; only
// the background sweep calls this. No events are broadcast for swept bans
// since game servers enforce expiresAt on their own.
func (l *Ledger) SweepExpiredBans(now time.Time) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var removed []string
	for id, rec := range l.globalBans {
		if rec.ExpiresAt != nil && rec.ExpiresAt.Before(now) {
			delete(l.globalBans, id)
			removed = append(removed, id)
		}
	}
	return removed
}
