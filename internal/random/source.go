// Package random supplies the coin flips and the secret-round draw for the
// experiment. The state machine only ever talks to the Source interface so
// tests can script exact sequences.
package random

import (
	"crypto/rand"
	"math/big"

	"EconLab/internal/model"
)

// Source produces the experiment's randomness. FlipCoin must be fair and
// independent across calls; DrawSecretRound must be uniform over
// [1, model.NumRounds]. Callers draw the secret exactly once per session and
// flip exactly once per round; resumed sessions re-read persisted values
// instead of calling back in.
type Source interface {
	FlipCoin() model.Outcome
	DrawSecretRound() int
}

// CryptoSource draws from crypto/rand. Payoffs are real, so participants
// must not be able to predict flips from server state.
type CryptoSource struct{}

// NewCryptoSource returns the production randomness source.
func NewCryptoSource() *CryptoSource { return &CryptoSource{} }

// FlipCoin returns heads or tails with equal probability.
func (s *CryptoSource) FlipCoin() model.Outcome {
	if randInt(2) == 0 {
		return model.Heads
	}
	return model.Tails
}

// DrawSecretRound returns a round index uniform in [1, NumRounds].
func (s *CryptoSource) DrawSecretRound() int {
	return randInt(model.NumRounds) + 1
}

// randInt returns a uniform value in [0, n). crypto/rand only fails when the
// OS entropy source is broken, which is not a state worth limping through.
func randInt(n int64) int {
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		panic("random: entropy source unavailable: " + err.Error())
	}
	return int(v.Int64())
}
