package model

import "time"

type ActionKind string

const (
	ActionWarn      ActionKind = "warn"
	ActionKick      ActionKind = "kick"
	ActionBanServer ActionKind = "ban-server"
	ActionBanGlobal ActionKind = "ban-global"
	ActionBanTemp   ActionKind = "ban-temp"
	ActionUnban     ActionKind = "unban"
)

// Action is the inbound moderation request after JSON decoding.
// Duration is seconds and only meaningful for ban-temp.
type Action struct {
	Kind     ActionKind `json:"action"`
	UserID   string     `json:"userId"`
	Reason   string     `json:"reason"`
	Duration int        `json:"duration"`
}

type EventType string

const (
	EventWarn       EventType = "warn"
	EventKick       EventType = "kick"
	EventBanSession EventType = "ban-session"
	EventBanGlobal  EventType = "ban-global"
	EventBanTemp    EventType = "ban-temp"
	EventUnban      EventType = "unban"
)

// Event is a derived moderation command pushed to every universe. ExpiresAt
// is Unix milliseconds, carried only by ban-temp. Game servers parse this
// exact shape out of the messaging-service payload.
type Event struct {
	Type      EventType `json:"type"`
	UserID    string    `json:"userId"`
	Reason    string    `json:"reason,omitempty"`
	ExpiresAt int64     `json:"expiresAt,omitempty"`
}

// WarningRecord counts warns for one player. Counters only ever increase for
// the lifetime of the process.
type WarningRecord struct {
	SessionCount int
	GlobalCount  int
}

// BanRecord is a global ban. A nil ExpiresAt means permanent.
type BanRecord struct {
	Reason    string
	ExpiresAt *time.Time
}

// Delivery is the outcome of publishing one event to one universe.
type Delivery struct {
	UniverseID string
	Err        error
}

type DeliveryReport struct {
	Deliveries []Delivery
}

func (r DeliveryReport) Failed() int {
	n := 0
	for _, d := range r.Deliveries {
		if d.Err != nil {
			n++
		}
	}
	return n
}
