// Package report builds and persists the end-of-session integrity summary.
//
// A report is derived entirely from the final ledger snapshot plus the
// session's audit records. Reports are validated against an embedded JSON
// Schema before they are written; a report that fails validation is a bug,
// not an input error.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"proctord/internal/event"
)

// Integrity status strings reported to the assessment backend.
const (
	StatusPassed         = "Passed"
	StatusFailed         = "Failed - Malpractice"
	StatusFailedExceeded = "Failed - Malpractice Exceeded Limit"
)

// Credibility scoring penalties.
const (
	criticalPenalty  = 15
	warningPenalty   = 5
	violationPenalty = 10
)

// ViolationEntry is one recorded violation in the report.
type ViolationEntry struct {
	Type       string    `json:"type"`
	Weight     int       `json:"weight"`
	Detail     string    `json:"detail"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Summary is the end-of-session integrity report.
type Summary struct {
	SessionID        string           `json:"sessionId"`
	StartedAt        time.Time        `json:"startedAt"`
	EndedAt          time.Time        `json:"endedAt"`
	ViolationCount   int              `json:"violationCount"`
	ViolationLimit   int              `json:"violationLimit"`
	Terminated       bool             `json:"terminated"`
	IntegrityStatus  string           `json:"integrityStatus"`
	CredibilityScore int              `json:"credibilityScore"`
	CriticalWarnings int              `json:"criticalWarnings"`
	Warnings         int              `json:"warnings"`
	Violations       []ViolationEntry `json:"violations"`
}

// Build assembles a Summary from the session outcome.
func Build(sessionID string, startedAt, endedAt time.Time, violations []event.Violation, count, limit int, terminated bool, criticalWarnings, warnings int) Summary {
	entries := make([]ViolationEntry, 0, len(violations))
	for _, v := range violations {
		entries = append(entries, ViolationEntry{
			Type:       string(v.Type),
			Weight:     v.Weight,
			Detail:     v.Detail,
			OccurredAt: v.OccurredAt.UTC(),
		})
	}

	return Summary{
		SessionID:        sessionID,
		StartedAt:        startedAt.UTC(),
		EndedAt:          endedAt.UTC(),
		ViolationCount:   count,
		ViolationLimit:   limit,
		Terminated:       terminated,
		IntegrityStatus:  IntegrityStatus(count, limit, terminated),
		CredibilityScore: Credibility(criticalWarnings, warnings, count),
		CriticalWarnings: criticalWarnings,
		Warnings:         warnings,
		Violations:       entries,
	}
}

// IntegrityStatus maps the session outcome to its reporting string.
func IntegrityStatus(count, limit int, terminated bool) string {
	switch {
	case terminated || count > limit:
		return StatusFailedExceeded
	case count > 0:
		return StatusFailed
	default:
		return StatusPassed
	}
}

// Credibility computes the 0-100 credibility score. Each critical warning
// costs 15 points, each ordinary warning 5, and each violation count unit
// 10; the score never goes below zero.
func Credibility(criticalWarnings, warnings, violationCount int) int {
	score := 100 - criticalPenalty*criticalWarnings - warningPenalty*warnings - violationPenalty*violationCount
	if score < 0 {
		return 0
	}
	return score
}

// schemaJSON is the report contract. Kept strict: unknown fields in a
// written report indicate drift between Build and the schema.
const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": [
    "sessionId", "startedAt", "endedAt", "violationCount", "violationLimit",
    "terminated", "integrityStatus", "credibilityScore",
    "criticalWarnings", "warnings", "violations"
  ],
  "properties": {
    "sessionId": {"type": "string", "minLength": 1},
    "startedAt": {"type": "string", "format": "date-time"},
    "endedAt": {"type": "string", "format": "date-time"},
    "violationCount": {"type": "integer", "minimum": 0},
    "violationLimit": {"type": "integer", "minimum": 1},
    "terminated": {"type": "boolean"},
    "integrityStatus": {
      "type": "string",
      "enum": ["Passed", "Failed - Malpractice", "Failed - Malpractice Exceeded Limit"]
    },
    "credibilityScore": {"type": "integer", "minimum": 0, "maximum": 100},
    "criticalWarnings": {"type": "integer", "minimum": 0},
    "warnings": {"type": "integer", "minimum": 0},
    "violations": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["type", "weight", "detail", "occurredAt"],
        "properties": {
          "type": {"type": "string", "minLength": 1},
          "weight": {"type": "integer", "minimum": 0},
          "detail": {"type": "string"},
          "occurredAt": {"type": "string", "format": "date-time"}
        }
      }
    }
  }
}`

var reportSchema = jsonschema.MustCompileString("proctord://report.schema.json", schemaJSON)

// Validate checks a summary against the report schema.
func Validate(s Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode report: %w", err)
	}

	if err := reportSchema.Validate(doc); err != nil {
		return fmt.Errorf("report schema validation: %w", err)
	}
	return nil
}

// Write validates the summary and writes it to dir as
// <sessionID>.report.json. The write is atomic: a partial file is never
// left at the final path.
func Write(dir string, s Summary) (string, error) {
	if err := Validate(s); err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	data = append(data, '\n')

	name := fmt.Sprintf("%s.report.json", sanitizeID(s.SessionID))
	path := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp report: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close report: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("publish report: %w", err)
	}

	return path, nil
}

// sanitizeID strips path separators from a session ID used as a filename.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, id)
}
