// Package export renders finalized session records as the wide CSV layout
// the analysis scripts expect: one row per participant, one column group per
// round.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"EconLab/internal/model"
	"EconLab/internal/store"
)

// Header is the full column list, in export order.
func Header() []string {
	cols := []string{
		"id", "created_at", "name", "gender", "age", "race",
		"chosen_round", "average_x", "final_payoff",
	}
	for i := 1; i <= model.NumRounds; i++ {
		cols = append(cols, fmt.Sprintf("x_%d", i))
	}
	for i := 1; i <= model.NumRounds; i++ {
		cols = append(cols, fmt.Sprintf("flip_%d", i))
	}
	for i := 1; i <= model.NumRounds; i++ {
		cols = append(cols, fmt.Sprintf("wealth_%d", i))
	}
	for i := 1; i <= model.NumRounds; i++ {
		cols = append(cols, fmt.Sprintf("time_ms_%d", i))
	}
	return cols
}

// WriteCSV streams all sessions as CSV. The secret round and payoff columns
// stay empty for sessions that never finished, so an abandoned session's
// secret is not disclosed even here.
func WriteCSV(w io.Writer, exports []store.SessionExport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := range exports {
		if err := cw.Write(Row(&exports[i])); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Row flattens one session and its rounds into export order.
func Row(e *store.SessionExport) []string {
	sess := e.Session
	row := []string{
		sess.ID,
		sess.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		sess.Demographics.Name,
		sess.Demographics.Gender,
		intCell(sess.Demographics.Age),
		sess.Demographics.Race,
	}
	if sess.Completed {
		row = append(row,
			strconv.Itoa(sess.SecretRound),
			floatCell(sess.AverageX),
			floatCell(sess.FinalPayoff),
		)
	} else {
		row = append(row, "", "", "")
	}

	byRound := make(map[int]*model.RoundRecord, len(e.Rounds))
	for i := range e.Rounds {
		byRound[e.Rounds[i].RoundIndex] = &e.Rounds[i]
	}

	row = appendRoundCells(row, byRound, func(r *model.RoundRecord) string { return floatCell(r.Investment) })
	row = appendRoundCells(row, byRound, func(r *model.RoundRecord) string { return string(r.Outcome) })
	row = appendRoundCells(row, byRound, func(r *model.RoundRecord) string { return floatCell(r.Wealth) })
	row = appendRoundCells(row, byRound, func(r *model.RoundRecord) string { return strconv.FormatInt(r.DecisionMS, 10) })
	return row
}

func appendRoundCells(row []string, byRound map[int]*model.RoundRecord, cell func(*model.RoundRecord) string) []string {
	for i := 1; i <= model.NumRounds; i++ {
		if r, ok := byRound[i]; ok {
			row = append(row, cell(r))
		} else {
			row = append(row, "")
		}
	}
	return row
}

// floatCell formats with the shortest exact representation so a re-parse
// reproduces the stored value bit for bit.
func floatCell(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func intCell(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}
