package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func appendN(t *testing.T, s *Store, sessionID string, n int) {
	t.Helper()
	base := time.Now()
	for i := 0; i < n; i++ {
		err := s.Append(context.Background(), Record{
			SessionID:    sessionID,
			EventType:    "tab_switch",
			Detail:       "user switched tabs or minimized window",
			Timestamp:    base.Add(time.Duration(i) * time.Second),
			Increment:    1,
			RunningCount: i + 1,
		})
		if err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}
}

// ============================================================
// Round trip
// ============================================================

func TestStoreAppendAndRecords(t *testing.T) {
	s, _ := openTestStore(t)
	appendN(t, s, "sess-1", 3)
	appendN(t, s, "sess-2", 1)

	records, err := s.Records(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Records() error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}

	for i, rec := range records {
		if rec.RunningCount != i+1 {
			t.Errorf("record %d running count = %d, want %d", i, rec.RunningCount, i+1)
		}
		if rec.SessionID != "sess-1" {
			t.Errorf("record %d session = %q", i, rec.SessionID)
		}
	}
}

func TestRecordsForUnknownSessionIsEmpty(t *testing.T) {
	s, _ := openTestStore(t)
	appendN(t, s, "sess-1", 2)

	records, err := s.Records(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Records() error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("got %d records for unknown session, want 0", len(records))
	}
}

// ============================================================
// Hash chain
// ============================================================

func TestVerifyAcceptsIntactChain(t *testing.T) {
	s, _ := openTestStore(t)
	appendN(t, s, "sess-1", 5)

	if err := s.Verify(context.Background()); err != nil {
		t.Errorf("Verify() on intact chain: %v", err)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	s, _ := openTestStore(t)
	appendN(t, s, "sess-1", 5)

	// Rewrite one row's detail behind the store's back.
	_, err := s.db.Exec(`UPDATE proctoring_logs SET detail = 'nothing happened' WHERE id = 3`)
	if err != nil {
		t.Fatalf("tamper update: %v", err)
	}

	if err := s.Verify(context.Background()); err == nil {
		t.Error("Verify() accepted a tampered chain")
	}
}

func TestVerifyDetectsCountRewrite(t *testing.T) {
	s, _ := openTestStore(t)
	appendN(t, s, "sess-1", 5)

	_, err := s.db.Exec(`UPDATE proctoring_logs SET running_count = 0 WHERE id = 5`)
	if err != nil {
		t.Fatalf("tamper update: %v", err)
	}

	if err := s.Verify(context.Background()); err == nil {
		t.Error("Verify() accepted a rewritten running count")
	}
}

func TestChainHeadSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	appendN(t, s, "sess-1", 3)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopen and keep appending; the chain must stay verifiable across
	// the restart.
	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	appendN(t, s2, "sess-1", 2)

	if err := s2.Verify(context.Background()); err != nil {
		t.Errorf("Verify() after reopen: %v", err)
	}

	records, err := s2.Records(context.Background(), "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 5 {
		t.Errorf("got %d records after reopen, want 5", len(records))
	}
}
