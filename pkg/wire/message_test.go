package wire

import (
	"testing"
	"time"
)

// fixedTime gives tests a deterministic envelope timestamp.
func fixedTime(t *testing.T) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, "2026-03-01T10:30:00Z")
	if err != nil {
		t.Fatalf("parse fixed time: %v", err)
	}
	return ts
}
