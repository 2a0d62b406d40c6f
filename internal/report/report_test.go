package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"proctord/internal/event"
)

// ============================================================
// Credibility scoring
// ============================================================

func TestCredibility(t *testing.T) {
	cases := []struct {
		name                        string
		critical, warnings, countIn int
		want                        int
	}{
		{"clean session", 0, 0, 0, 100},
		{"one warning", 0, 1, 0, 95},
		{"one critical", 1, 0, 0, 85},
		{"mixed", 1, 2, 3, 45},
		{"floors at zero", 5, 10, 10, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Credibility(tc.critical, tc.warnings, tc.countIn)
			if got != tc.want {
				t.Errorf("Credibility(%d, %d, %d) = %d, want %d",
					tc.critical, tc.warnings, tc.countIn, got, tc.want)
			}
		})
	}
}

// ============================================================
// Integrity status
// ============================================================

func TestIntegrityStatus(t *testing.T) {
	cases := []struct {
		name       string
		count      int
		limit      int
		terminated bool
		want       string
	}{
		{"clean", 0, 5, false, StatusPassed},
		{"within limit", 3, 5, false, StatusFailed},
		{"at limit", 5, 5, false, StatusFailed},
		{"over limit", 6, 5, false, StatusFailedExceeded},
		{"terminated", 2, 5, true, StatusFailedExceeded},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := IntegrityStatus(tc.count, tc.limit, tc.terminated)
			if got != tc.want {
				t.Errorf("IntegrityStatus(%d, %d, %v) = %q, want %q",
					tc.count, tc.limit, tc.terminated, got, tc.want)
			}
		})
	}
}

// ============================================================
// Build and validation
// ============================================================

func testSummary() Summary {
	start := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	violations := []event.Violation{
		event.New(event.TypeTabSwitch, "user switched tabs", start.Add(time.Minute)),
		event.New(event.TypeMultipleFaces, "2 faces detected in frame", start.Add(2*time.Minute)),
	}
	return Build("sess-report-1", start, start.Add(time.Hour), violations, 3, 5, false, 0, 2)
}

func TestBuildSummary(t *testing.T) {
	s := testSummary()

	if s.IntegrityStatus != StatusFailed {
		t.Errorf("integrity status = %q, want %q", s.IntegrityStatus, StatusFailed)
	}
	if s.CredibilityScore != 60 { // 100 - 2*5 - 3*10
		t.Errorf("credibility = %d, want 60", s.CredibilityScore)
	}
	if len(s.Violations) != 2 {
		t.Fatalf("violations = %d, want 2", len(s.Violations))
	}
	if s.Violations[1].Weight != event.EscalatedWeight {
		t.Errorf("multiple_faces weight = %d, want %d", s.Violations[1].Weight, event.EscalatedWeight)
	}
}

func TestValidateAcceptsBuiltSummary(t *testing.T) {
	if err := Validate(testSummary()); err != nil {
		t.Fatalf("built summary should validate: %v", err)
	}
}

func TestValidateRejectsBadSummary(t *testing.T) {
	s := testSummary()
	s.IntegrityStatus = "Inconclusive"
	if err := Validate(s); err == nil {
		t.Error("expected schema error for unknown integrity status")
	}

	s = testSummary()
	s.SessionID = ""
	if err := Validate(s); err == nil {
		t.Error("expected schema error for empty session id")
	}

	s = testSummary()
	s.CredibilityScore = 120
	if err := Validate(s); err == nil {
		t.Error("expected schema error for score over 100")
	}
}

// ============================================================
// Writing
// ============================================================

func TestWriteReport(t *testing.T) {
	dir := t.TempDir()

	path, err := Write(dir, testSummary())
	if err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("report written outside dir: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	var got Summary
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("report not valid JSON: %v", err)
	}
	if got.SessionID != "sess-report-1" {
		t.Errorf("session id = %q", got.SessionID)
	}
	if got.ViolationCount != 3 {
		t.Errorf("violation count = %d, want 3", got.ViolationCount)
	}
}

func TestWriteRejectsInvalidReport(t *testing.T) {
	dir := t.TempDir()

	s := testSummary()
	s.IntegrityStatus = "bogus"
	if _, err := Write(dir, s); err == nil {
		t.Fatal("expected validation error")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("invalid report left %d files behind", len(entries))
	}
}

func TestSanitizeID(t *testing.T) {
	if got := sanitizeID("a/b\\c:d"); got != "a_b_c_d" {
		t.Errorf("sanitizeID = %q", got)
	}
}
