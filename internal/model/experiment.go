package model

import "time"

// ExperimentState is the singleton admin-controlled switch for the whole
// experiment. New sessions are refused while IsOpen is false; running
// sessions are unaffected.
type ExperimentState struct {
	IsOpen    bool
	Title     string
	CreatedAt time.Time
}
