// Package store appends an audit trail of handled moderation actions to
// Postgres. The trail is history only: the in-memory ledger stays
// authoritative and is never rebuilt from it.
//
// Expected schema:
//
//	create table moderation_audit (
//	    id                uuid primary key,
//	    action_kind       text not null,
//	    user_id           text not null,
//	    reason            text not null default '',
//	    duration_seconds  int not null default 0,
//	    event_types       text[] not null,
//	    destination_count int not null,
//	    failed_deliveries int not null,
//	    created_at        timestamptz not null
//	);
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Store struct {
	db DB
}

type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func New(db DB) *Store {
	return &Store{db: db}
}

type AuditInput struct {
	ActionKind       string
	UserID           string
	Reason           string
	DurationSeconds  int
	EventTypes       []string
	DestinationCount int
	FailedDeliveries int
}

type AuditEntry struct {
	ID               string
	ActionKind       string
	UserID           string
	Reason           string
	DurationSeconds  int
	EventTypes       []string
	DestinationCount int
	FailedDeliveries int
	CreatedAt        time.Time
}

func (s *Store) RecordAction(ctx context.Context, in AuditInput) error {
	const q = `
insert into moderation_audit
  (id, action_kind, user_id, reason, duration_seconds, event_types, destination_count, failed_deliveries, created_at)
values
  ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.db.Exec(ctx, q,
		uuid.NewString(), in.ActionKind, in.UserID, in.Reason, in.DurationSeconds,
		in.EventTypes, in.DestinationCount, in.FailedDeliveries, time.Now().UTC())
	return err
}

// PruneBefore deletes audit rows older than cutoff and reports how many went.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `delete from moderation_audit where created_at < $1`
	tag, err := s.db.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) ListRecent(ctx context.Context, limit int) ([]AuditEntry, error) {
	const q = `
select id, action_kind, user_id, reason, duration_seconds, event_types, destination_count, failed_deliveries, created_at
from moderation_audit
order by created_at desc
limit $1`
	rows, err := s.db.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(
			&e.ID, &e.ActionKind, &e.UserID, &e.Reason, &e.DurationSeconds,
			&e.EventTypes, &e.DestinationCount, &e.FailedDeliveries, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
