package journal_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/zsprackett/devserve/internal/events"
	"github.com/zsprackett/devserve/internal/journal"
)

func openStore(t *testing.T) *journal.Store {
	t.Helper()
	store, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return store
}

func TestMigrate_Idempotent(t *testing.T) {
	store := openStore(t)
	if err := store.Migrate(); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestRequests(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, status := range []int{200, 404, 200} {
		err := store.RecordRequest(ctx, events.Request{
			ID:        string(rune('a' + i)),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Method:    "GET",
			URL:       "/page",
			Status:    status,
			Duration:  "1ms",
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	recent, err := store.RecentRequests(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].ID != "c" || recent[1].ID != "b" {
		t.Fatalf("recent %+v", recent)
	}
	if !recent[0].Timestamp.Equal(base.Add(2 * time.Second)) {
		t.Errorf("timestamp %v", recent[0].Timestamp)
	}

	counts, err := store.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Requests != 3 || counts.Errors != 1 || counts.Reloads != 0 {
		t.Errorf("counts %+v", counts)
	}
}

func TestReloads(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	ev := events.ChangeEvent{Path: "/site/style.css", Kind: events.KindChange}
	if err := store.RecordReload(ctx, ev, events.RefreshCSS, 2); err != nil {
		t.Fatal(err)
	}
	got, err := store.RecentReloads(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Message != events.RefreshCSS || got[0].Clients != 2 || got[0].Kind != events.KindChange {
		t.Errorf("reloads %+v", got)
	}
}
