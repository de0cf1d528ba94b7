package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/webquiz/quiztunnel/internal/domain"
)

// DefaultRecentLimit caps Recent when the caller passes no limit.
const DefaultRecentLimit = 50

const maxRecentLimit = 1000

// AppendEvent stores one status event.
func (s *Store) AppendEvent(ctx context.Context, ev domain.StatusEvent) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.insertEventStmt.ExecContext(ctx,
		int64(ev.Seq),
		string(ev.State),
		nullableString(ev.PublicURL),
		nullableString(ev.Error),
		nullableString(string(ev.ErrorKind)),
		nullableString(ev.RendezvousID),
		ev.RetryAttempt,
		ev.RetryIn.Milliseconds(),
		at.UTC(),
	)
	return err
}

// RecentEvents returns up to limit events, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]domain.StatusEvent, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	rows, err := s.recentEventStmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]domain.StatusEvent, 0, limit)
	for rows.Next() {
		var ev domain.StatusEvent
		var seq, retryInMS int64
		var state string
		var publicURL, errMsg, kind, rendezvous sql.NullString
		if err := rows.Scan(&seq, &state, &publicURL, &errMsg, &kind, &rendezvous, &ev.RetryAttempt, &retryInMS, &ev.At); err != nil {
			return nil, err
		}
		ev.Seq = uint64(seq)
		ev.State = domain.State(state)
		ev.PublicURL = stringOrEmpty(publicURL)
		ev.Error = stringOrEmpty(errMsg)
		ev.ErrorKind = domain.ErrorKind(stringOrEmpty(kind))
		ev.RendezvousID = stringOrEmpty(rendezvous)
		ev.RetryIn = time.Duration(retryInMS) * time.Millisecond
		out = append(out, ev)
	}
	return out, rows.Err()
}

// PruneEvents keeps the newest keep rows and deletes the rest. It returns
// the number of deleted rows.
func (s *Store) PruneEvents(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.pruneEventsStmt.ExecContext(ctx, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
