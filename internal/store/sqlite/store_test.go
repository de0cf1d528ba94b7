package sqlite

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/webquiz/quiztunnel/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppendAndRecentEvents(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	events := []domain.StatusEvent{
		{Seq: 1, State: domain.StateConnecting, RendezvousID: "ab12cd", At: at},
		{Seq: 2, State: domain.StateReconnectWaiting, RendezvousID: "ab12cd", Error: "relay unreachable: connection refused",
			ErrorKind: domain.KindUnreachable, RetryAttempt: 1, RetryIn: 10 * time.Second, At: at.Add(time.Second)},
		{Seq: 3, State: domain.StateConnected, RendezvousID: "ab12cd", PublicURL: "https://relay.example.com/tests/ab12cd/", At: at.Add(12 * time.Second)},
	}
	for _, ev := range events {
		if err := store.AppendEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.RecentEvents(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Seq != 3 || got[0].PublicURL != "https://relay.example.com/tests/ab12cd/" {
		t.Fatalf("expected newest connected event first, got %+v", got[0])
	}
	w := got[1]
	if w.State != domain.StateReconnectWaiting || w.ErrorKind != domain.KindUnreachable || w.RetryAttempt != 1 || w.RetryIn != 10*time.Second {
		t.Fatalf("unexpected waiting event %+v", w)
	}
	if !w.At.Equal(at.Add(time.Second)) {
		t.Fatalf("expected timestamp %s, got %s", at.Add(time.Second), w.At)
	}
	if w.PublicURL != "" {
		t.Fatalf("expected empty public url, got %q", w.PublicURL)
	}
}

func TestPruneEventsKeepsNewest(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		if err := store.AppendEvent(ctx, domain.StatusEvent{Seq: uint64(i), State: domain.StateConnecting}); err != nil {
			t.Fatal(err)
		}
	}
	n, err := store.PruneEvents(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if n != 7 {
		t.Fatalf("expected 7 deleted rows, got %d", n)
	}
	got, err := store.RecentEvents(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].Seq != 10 || got[2].Seq != 8 {
		t.Fatalf("expected seqs 10..8, got %+v", got)
	}
}

func TestJournalPrunesPeriodically(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	j := NewJournal(store, 5, slog.New(slog.NewTextHandler(io.Discard, nil)))

	for i := 1; i <= pruneEvery; i++ {
		j.Record(domain.StatusEvent{Seq: uint64(i), State: domain.StateConnected, At: time.Now()})
	}
	got, err := store.RecentEvents(context.Background(), 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Fatalf("expected journal pruned to 5 rows, got %d", len(got))
	}
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	t.Parallel()
	dbPath := filepath.Join(t.TempDir(), "nested", "path", "tunnel.db")

	store, err := Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("expected db file to exist at %s: %v", dbPath, err)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}
