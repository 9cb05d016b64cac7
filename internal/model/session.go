package model

import "time"

// NumRounds is the fixed length of one experiment run.
const NumRounds = 10

// Endowment is the number of points a participant starts each round with.
const Endowment = 100.0

// Outcome is the result of a fair coin flip.
type Outcome string

const (
	Heads Outcome = "heads"
	Tails Outcome = "tails"
)

// Valid reports whether o is one of the two coin sides.
func (o Outcome) Valid() bool {
	return o == Heads || o == Tails
}

// Demographics holds the optional survey answers collected before round 1.
type Demographics struct {
	Name   string
	Gender string
	Age    int
	Race   string
}

// Session is one participant's full ten-round run.
//
// SecretRound is drawn once at creation and must never leave the server
// before the session completes. CurrentRound is 0 before round 1 and
// NumRounds once the run is over. FinalPayoff and AverageX are set exactly
// once, in the same transaction that records round 10.
type Session struct {
	ID           string
	CreatedAt    time.Time
	Demographics Demographics
	SecretRound  int
	CurrentRound int
	AverageX     float64
	FinalPayoff  float64
	Completed    bool
}

// RoundRecord is one investment decision and its coin-flip resolution.
// Records are immutable once written.
type RoundRecord struct {
	SessionID  string
	RoundIndex int
	Investment float64
	Outcome    Outcome
	Wealth     float64
	DecisionMS int64
}
