package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"EconLab/internal/experiment"
	"EconLab/internal/model"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	state, err := s.store.ExperimentState()
	if err != nil {
		s.storeFailure(w, err)
		return
	}
	s.render(w, "index.html", map[string]any{
		"Title":  state.Title,
		"Open":   state.IsOpen,
		"Closed": r.URL.Query().Get("closed") == "1",
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	pos, err := s.machine.StartSession()
	if err != nil {
		if errors.Is(err, experiment.ErrExperimentClosed) {
			http.Redirect(w, r, "/?closed=1", http.StatusSeeOther)
			return
		}
		s.storeFailure(w, err)
		return
	}
	setSessionCookie(w, pos.SessionID)
	http.Redirect(w, r, "/survey", http.StatusSeeOther)
}

func (s *Server) handleSurveyForm(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.sessionID(w, r); !ok {
		return
	}
	s.render(w, "survey.html", nil)
}

func (s *Server) handleSurveySubmit(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	age := 0
	if v := strings.TrimSpace(r.FormValue("age")); v != "" {
		age, _ = strconv.Atoi(v)
	}
	d := model.Demographics{
		Name:   strings.TrimSpace(r.FormValue("name")),
		Gender: r.FormValue("gender"),
		Age:    age,
		Race:   r.FormValue("race"),
	}
	if err := s.machine.SaveDemographics(id, d); err != nil {
		if errors.Is(err, experiment.ErrSessionNotFound) {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		s.storeFailure(w, err)
		return
	}
	http.Redirect(w, r, "/instructions", http.StatusSeeOther)
}

func (s *Server) handleInstructions(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.sessionID(w, r); !ok {
		return
	}
	s.render(w, "instructions.html", map[string]any{"Total": model.NumRounds})
}

func (s *Server) handleRoundForm(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	n, ok := roundNumber(w, r)
	if !ok {
		return
	}

	pos, err := s.machine.CurrentPosition(id)
	if err != nil {
		s.positionFailure(w, r, err)
		return
	}
	if pos.Completed {
		http.Redirect(w, r, "/results", http.StatusSeeOther)
		return
	}
	// A stale tab or a skipped-ahead URL lands on the round the session is
	// actually at.
	if n != pos.CurrentRound+1 {
		http.Redirect(w, r, roundPath(pos.CurrentRound+1), http.StatusSeeOther)
		return
	}

	s.renderRoundForm(w, n, "")
}

func (s *Server) handleRoundSubmit(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	n, ok := roundNumber(w, r)
	if !ok {
		return
	}

	x, xErr := strconv.ParseFloat(strings.TrimSpace(r.FormValue("x")), 64)
	if xErr != nil {
		s.renderRoundForm(w, n, "Enter a number of points between 0 and 100.")
		return
	}
	decisionMS, _ := strconv.ParseInt(r.FormValue("time_ms"), 10, 64)

	_, err := s.machine.SubmitRound(id, n, x, decisionMS)
	switch {
	case err == nil:
		http.Redirect(w, r, roundPath(n)+"/outcome", http.StatusSeeOther)
	case errors.Is(err, experiment.ErrInvalidInvestment):
		s.renderRoundForm(w, n, "Investment must be between 0 and 100 points.")
	case errors.Is(err, experiment.ErrOutOfOrder),
		errors.Is(err, experiment.ErrDuplicateSubmission),
		errors.Is(err, experiment.ErrSessionCompleted):
		// The round is already settled (double-click, second tab, replay).
		// Send the participant to wherever the session actually is.
		s.redirectToPosition(w, r, id)
	case errors.Is(err, experiment.ErrSessionNotFound):
		http.Redirect(w, r, "/", http.StatusSeeOther)
	default:
		s.storeFailure(w, err)
	}
}

func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	n, ok := roundNumber(w, r)
	if !ok {
		return
	}

	view, err := s.machine.Round(id, n)
	if err != nil {
		if errors.Is(err, experiment.ErrRoundNotRecorded) {
			http.Redirect(w, r, roundPath(n), http.StatusSeeOther)
			return
		}
		s.positionFailure(w, r, err)
		return
	}

	nextURL := "/results"
	if n < model.NumRounds {
		nextURL = roundPath(n + 1)
	}
	s.render(w, "outcome.html", map[string]any{
		"Round":   view,
		"N":       n,
		"Total":   model.NumRounds,
		"Heads":   view.Outcome == model.Heads,
		"NextURL": nextURL,
	})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}

	res, err := s.machine.Result(id)
	if err != nil {
		if errors.Is(err, experiment.ErrResultNotReady) {
			s.redirectToPosition(w, r, id)
			return
		}
		s.positionFailure(w, r, err)
		return
	}
	s.render(w, "results.html", map[string]any{
		"SecretRound": res.SecretRound,
		"FinalPayoff": res.FinalPayoff,
		"AverageX":    res.AverageX,
		"History":     res.History,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) renderRoundForm(w http.ResponseWriter, n int, errMsg string) {
	s.render(w, "round.html", map[string]any{
		"N":     n,
		"Total": model.NumRounds,
		"Error": errMsg,
	})
}

// redirectToPosition sends the participant to the page matching the
// session's persisted state.
func (s *Server) redirectToPosition(w http.ResponseWriter, r *http.Request, id string) {
	pos, err := s.machine.CurrentPosition(id)
	if err != nil {
		s.positionFailure(w, r, err)
		return
	}
	if pos.Completed {
		http.Redirect(w, r, "/results", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, roundPath(pos.CurrentRound+1), http.StatusSeeOther)
}

// positionFailure handles errors while locating a session: unknown sessions
// restart at the landing page, store outages get the retry page.
func (s *Server) positionFailure(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, experiment.ErrSessionNotFound) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.storeFailure(w, err)
}

func (s *Server) storeFailure(w http.ResponseWriter, err error) {
	log.Printf("[ERROR] store failure: %v", err)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	s.render(w, "error.html", map[string]any{
		"Message": "We could not save your answer. Please go back and try again.",
	})
}

func roundNumber(w http.ResponseWriter, r *http.Request) (int, bool) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil || n < 1 || n > model.NumRounds {
		http.NotFound(w, r)
		return 0, false
	}
	return n, true
}

func roundPath(n int) string {
	return fmt.Sprintf("/round/%d", n)
}
