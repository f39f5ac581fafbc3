package history

import (
	"context"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Path(t.TempDir()))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordAndRecent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Millisecond)
	attempts := []Attempt{
		{Path: "/watch/a.mkv", Attempt: 1, Outcome: "recoverable", Output: "locked", Duration: 120 * time.Millisecond, StartedAt: started},
		{Path: "/watch/a.mkv", Attempt: 2, Outcome: "success", Duration: 2 * time.Second, StartedAt: started.Add(time.Minute)},
		{Path: "/watch/b.mkv", Attempt: 1, Outcome: "permanent", Output: "not a container", Duration: 50 * time.Millisecond, StartedAt: started.Add(2 * time.Minute)},
	}
	for _, a := range attempts {
		if err := db.Record(ctx, a); err != nil {
			t.Fatalf("Record() failed: %v", err)
		}
	}

	recent, err := db.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("Recent() returned %d rows, want 3", len(recent))
	}

	// Newest first.
	if recent[0].Path != "/watch/b.mkv" {
		t.Errorf("newest attempt path = %s, want /watch/b.mkv", recent[0].Path)
	}
	if recent[0].Outcome != "permanent" {
		t.Errorf("newest attempt outcome = %s, want permanent", recent[0].Outcome)
	}
	if recent[1].Attempt != 2 || recent[1].Duration != 2*time.Second {
		t.Errorf("middle attempt = %+v, want attempt 2 with 2s duration", recent[1])
	}
	if !recent[2].StartedAt.Equal(started) {
		t.Errorf("oldest attempt started at %v, want %v", recent[2].StartedAt, started)
	}
}

func TestRecent_Limit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		a := Attempt{Path: "/watch/a.mkv", Attempt: i, Outcome: "recoverable", StartedAt: time.Now()}
		if err := db.Record(ctx, a); err != nil {
			t.Fatalf("Record() failed: %v", err)
		}
	}

	recent, err := db.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("Recent(2) returned %d rows", len(recent))
	}
}

func TestCountByOutcome(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	outcomes := []string{"success", "success", "recoverable", "permanent"}
	for i, o := range outcomes {
		a := Attempt{Path: "/watch/a.mkv", Attempt: i + 1, Outcome: o, StartedAt: time.Now()}
		if err := db.Record(ctx, a); err != nil {
			t.Fatalf("Record() failed: %v", err)
		}
	}

	counts, err := db.CountByOutcome(ctx)
	if err != nil {
		t.Fatalf("CountByOutcome() failed: %v", err)
	}

	want := map[string]int{"success": 2, "recoverable": 1, "permanent": 1}
	for outcome, n := range want {
		if counts[outcome] != n {
			t.Errorf("counts[%s] = %d, want %d", outcome, counts[outcome], n)
		}
	}
}

func TestOpen_Reopen(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir)

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := db.Record(context.Background(), Attempt{
		Path: "/watch/a.mkv", Attempt: 1, Outcome: "success", StartedAt: time.Now(),
	}); err != nil {
		t.Fatalf("Record() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	recent, err := reopened.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(recent) != 1 {
		t.Errorf("journal lost rows across reopen: got %d, want 1", len(recent))
	}
}
