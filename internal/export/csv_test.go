package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"EconLab/internal/model"
	"EconLab/internal/store"
)

func sampleExport(completed bool) store.SessionExport {
	sess := model.Session{
		ID:        "abc-123",
		CreatedAt: time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC),
		Demographics: model.Demographics{
			Name:   "Pat",
			Gender: "Other",
			Age:    23,
			Race:   "Unspecified",
		},
		SecretRound:  4,
		CurrentRound: 2,
		AverageX:     35,
		FinalPayoff:  160,
		Completed:    completed,
	}
	rounds := []model.RoundRecord{
		{SessionID: "abc-123", RoundIndex: 1, Investment: 30, Outcome: model.Heads, Wealth: 145, DecisionMS: 4200},
		{SessionID: "abc-123", RoundIndex: 2, Investment: 40, Outcome: model.Tails, Wealth: 60, DecisionMS: 3100},
	}
	return store.SessionExport{Session: sess, Rounds: rounds}
}

func TestHeader_Shape(t *testing.T) {
	h := Header()
	if len(h) != 9+4*model.NumRounds {
		t.Fatalf("header has %d columns, want %d", len(h), 9+4*model.NumRounds)
	}
	if h[0] != "id" || h[6] != "chosen_round" || h[9] != "x_1" {
		t.Errorf("unexpected header layout: %v", h[:10])
	}
	if h[len(h)-1] != "time_ms_10" {
		t.Errorf("last column = %q, want time_ms_10", h[len(h)-1])
	}
}

func TestWriteCSV_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, []store.SessionExport{sampleExport(true)}); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("re-parse csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want header + 1 row", len(records))
	}

	row := records[1]
	cols := map[string]string{}
	for i, name := range records[0] {
		cols[name] = row[i]
	}
	if cols["chosen_round"] != "4" {
		t.Errorf("chosen_round = %q, want 4", cols["chosen_round"])
	}
	if cols["final_payoff"] != "160" {
		t.Errorf("final_payoff = %q, want 160", cols["final_payoff"])
	}
	if cols["x_2"] != "40" || cols["flip_2"] != "tails" || cols["wealth_2"] != "60" {
		t.Errorf("round 2 cells wrong: x=%q flip=%q wealth=%q", cols["x_2"], cols["flip_2"], cols["wealth_2"])
	}
	if cols["x_3"] != "" {
		t.Errorf("x_3 = %q for unplayed round, want empty", cols["x_3"])
	}
	if cols["time_ms_1"] != "4200" {
		t.Errorf("time_ms_1 = %q, want 4200", cols["time_ms_1"])
	}
}

func TestWriteCSV_IncompleteSessionHidesSecret(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, []store.SessionExport{sampleExport(false)}); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	row := strings.Split(lines[1], ",")
	// chosen_round, average_x, final_payoff are columns 6..8.
	for i := 6; i <= 8; i++ {
		if row[i] != "" {
			t.Errorf("column %d = %q for incomplete session, want empty", i, row[i])
		}
	}
}
