// Package experiment owns the session lifecycle of the ten-round investment
// experiment: session creation, strictly ordered round submission, and
// payoff determination. The secret round drawn at session creation never
// leaves this package before the session completes.
package experiment

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"EconLab/internal/model"
	"EconLab/internal/random"
	"EconLab/internal/store"
)

// Position tells the presentation layer where a participant is without
// exposing anything else about the session. CurrentRound is the number of
// rounds already recorded; the next round to play is CurrentRound+1.
type Position struct {
	SessionID    string
	CurrentRound int
	Completed    bool
}

// RoundView is a single already-recorded round, safe to show its owner.
type RoundView struct {
	RoundIndex int
	Investment float64
	Outcome    model.Outcome
	Wealth     float64
}

// Result is the full debrief, only available once the session is complete.
type Result struct {
	SecretRound int
	FinalPayoff float64
	AverageX    float64
	History     []RoundView
}

// Machine drives sessions through NotStarted -> InProgress(1..10) ->
// Completed. All state lives in the injected store; the machine itself is
// stateless and safe for concurrent use.
type Machine struct {
	store store.Store
	src   random.Source
}

// New wires a Machine to its persistence and randomness capabilities.
func New(st store.Store, src random.Source) *Machine {
	return &Machine{store: st, src: src}
}

// StartSession draws the secret round, persists a fresh session, and returns
// its position at round 1. Refused while the experiment is closed.
func (m *Machine) StartSession() (Position, error) {
	state, err := m.store.ExperimentState()
	if err != nil {
		return Position{}, storeErr(err)
	}
	if !state.IsOpen {
		return Position{}, ErrExperimentClosed
	}

	sess := &model.Session{
		ID:          uuid.NewString(),
		CreatedAt:   time.Now().UTC(),
		SecretRound: m.src.DrawSecretRound(),
	}
	if err := m.store.CreateSession(sess); err != nil {
		return Position{}, storeErr(err)
	}
	return Position{SessionID: sess.ID}, nil
}

// SaveDemographics attaches optional survey answers to a session.
func (m *Machine) SaveDemographics(id string, d model.Demographics) error {
	if err := m.store.SaveDemographics(id, d); err != nil {
		return storeErr(err)
	}
	return nil
}

// CurrentPosition reconstructs where a participant is purely from persisted
// state, so a reload mid-run resumes without side effects.
func (m *Machine) CurrentPosition(id string) (Position, error) {
	sess, err := m.store.GetSession(id)
	if err != nil {
		return Position{}, storeErr(err)
	}
	return Position{
		SessionID:    sess.ID,
		CurrentRound: sess.CurrentRound,
		Completed:    sess.Completed,
	}, nil
}

// Round returns an already-recorded round of the given session. A round's
// own outcome is shown to the participant right after they play it; only
// the secret round stays hidden.
func (m *Machine) Round(id string, roundIndex int) (RoundView, error) {
	rec, err := m.store.GetRound(id, roundIndex)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return RoundView{}, ErrRoundNotRecorded
		}
		return RoundView{}, storeErr(err)
	}
	return roundView(rec), nil
}

// SubmitRound records round roundIndex for the session: validates the
// investment, flips the coin, evaluates the wealth, and appends the record
// while advancing the session in one atomic store call. On round 10 the
// final payoff (the wealth of the secret round) and the average investment
// are finalized in the same transaction.
//
// Rounds must be submitted strictly in order. A submission that loses the
// race for an in-order round gets ErrDuplicateSubmission; the winning record
// is never overwritten.
func (m *Machine) SubmitRound(id string, roundIndex int, investment float64, decisionMS int64) (RoundView, error) {
	sess, err := m.store.GetSession(id)
	if err != nil {
		return RoundView{}, storeErr(err)
	}
	if sess.Completed {
		return RoundView{}, ErrSessionCompleted
	}
	if roundIndex != sess.CurrentRound+1 {
		return RoundView{}, ErrOutOfOrder
	}
	if !validInvestment(investment) {
		return RoundView{}, ErrInvalidInvestment
	}

	outcome := m.src.FlipCoin()
	rec := &model.RoundRecord{
		SessionID:  id,
		RoundIndex: roundIndex,
		Investment: investment,
		Outcome:    outcome,
		Wealth:     Evaluate(investment, outcome),
		DecisionMS: decisionMS,
	}

	var done *store.Completion
	if roundIndex == model.NumRounds {
		done, err = m.completion(sess, rec)
		if err != nil {
			return RoundView{}, err
		}
	}

	if err := m.store.AppendRoundAndAdvance(id, rec, done); err != nil {
		return RoundView{}, storeErr(err)
	}
	return roundView(rec), nil
}

// completion computes the terminal values before the last append so they
// commit atomically with round 10. The payoff is the recorded wealth of the
// secret round, taken verbatim.
func (m *Machine) completion(sess *model.Session, last *model.RoundRecord) (*store.Completion, error) {
	prior, err := m.store.GetRounds(sess.ID)
	if err != nil {
		return nil, storeErr(err)
	}
	if len(prior) != model.NumRounds-1 {
		// The session row said nine rounds are in; a mismatch means a racer
		// got here first or the store is inconsistent.
		return nil, ErrDuplicateSubmission
	}

	sum := last.Investment
	payoff := last.Wealth
	for _, r := range prior {
		sum += r.Investment
		if r.RoundIndex == sess.SecretRound {
			payoff = r.Wealth
		}
	}
	return &store.Completion{
		FinalPayoff: payoff,
		AverageX:    sum / model.NumRounds,
	}, nil
}

// Result returns the payoff, the secret round, and the full history. It is
// the only path that reveals the secret, and only once the session is
// complete. Repeated calls read the same persisted values.
func (m *Machine) Result(id string) (Result, error) {
	sess, err := m.store.GetSession(id)
	if err != nil {
		return Result{}, storeErr(err)
	}
	if !sess.Completed {
		return Result{}, ErrResultNotReady
	}

	recs, err := m.store.GetRounds(id)
	if err != nil {
		return Result{}, storeErr(err)
	}
	history := make([]RoundView, 0, len(recs))
	for i := range recs {
		history = append(history, roundView(&recs[i]))
	}
	return Result{
		SecretRound: sess.SecretRound,
		FinalPayoff: sess.FinalPayoff,
		AverageX:    sess.AverageX,
		History:     history,
	}, nil
}

func roundView(rec *model.RoundRecord) RoundView {
	return RoundView{
		RoundIndex: rec.RoundIndex,
		Investment: rec.Investment,
		Outcome:    rec.Outcome,
		Wealth:     rec.Wealth,
	}
}
