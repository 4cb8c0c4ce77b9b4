package archive

import (
	"testing"
	"time"

	"github.com/SteelMorgan/mc-bridge/internal/domain"
)

func TestRows(t *testing.T) {
	events := []domain.ChatEvent{
		{Timestamp: "14:02:03", Username: "Steve", Text: "hello world"},
		{Timestamp: "14:02:04", Username: "Alex", Text: "hi"},
	}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))

	rows := Rows(events, "logs/latest.log", now)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	r := rows[0]
	if r.LogTime != "14:02:03" || r.Username != "Steve" || r.Text != "hello world" {
		t.Errorf("unexpected row %+v", r)
	}
	if r.Source != "logs/latest.log" {
		t.Errorf("expected source to be set, got %q", r.Source)
	}
	if r.ReceivedAt.Location() != time.UTC || !r.ReceivedAt.Equal(now) {
		t.Errorf("expected UTC receive time, got %v", r.ReceivedAt)
	}
	if len(r.Fingerprint) != 64 || r.Fingerprint != events[0].Fingerprint() {
		t.Errorf("unexpected fingerprint %q", r.Fingerprint)
	}
	if rows[1].Username != "Alex" {
		t.Errorf("order not preserved")
	}
}

func TestRowsEmpty(t *testing.T) {
	if rows := Rows(nil, "x", time.Now()); len(rows) != 0 {
		t.Errorf("expected no rows, got %d", len(rows))
	}
}
