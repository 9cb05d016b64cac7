// Package store persists sessions and round records. The state machine in
// internal/experiment only depends on the Store interface; SQLite is the
// default backend, Postgres is used when DATABASE_URL is set, and the
// in-memory implementation backs the tests.
package store

import (
	"errors"
	"time"

	"EconLab/internal/model"
)

var (
	// ErrNotFound is returned when a session or round does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when AppendRoundAndAdvance loses the race on
	// a session's current_round, i.e. the round was already recorded or
	// submitted out of order.
	ErrConflict = errors.New("store: conflict")
)

// Completion carries the values finalized together with the last round.
type Completion struct {
	FinalPayoff float64
	AverageX    float64
}

// SessionExport pairs a session with its full round history, for the admin
// export path only.
type SessionExport struct {
	Session model.Session
	Rounds  []model.RoundRecord
}

// Store is the persistence contract consumed by the state machine.
//
// AppendRoundAndAdvance is the single serialization point of the system: it
// must insert the round record and advance the session's current_round from
// rec.RoundIndex-1 to rec.RoundIndex in one atomic step, returning
// ErrConflict if the session was not at the expected prior round. When done
// is non-nil the final payoff and average investment are written in the same
// transaction and the session is marked completed. Two concurrent calls for
// the same round must yield exactly one success and one ErrConflict.
type Store interface {
	CreateSession(s *model.Session) error
	GetSession(id string) (*model.Session, error)
	GetRound(id string, roundIndex int) (*model.RoundRecord, error)
	GetRounds(id string) ([]model.RoundRecord, error)
	AppendRoundAndAdvance(id string, rec *model.RoundRecord, done *Completion) error
	SaveDemographics(id string, d model.Demographics) error

	ExperimentState() (*model.ExperimentState, error)
	SetExperimentOpen(open bool) error

	ListAllSessions() ([]SessionExport, error)
	Counts() (sessions, decisions int, err error)
	DeleteAllSessions() error
	PurgeAbandoned(before time.Time) (int64, error)

	Close() error
}

// DefaultTitle names the experiment until an operator renames it.
const DefaultTitle = "ECON 3310 Experiment 2"
