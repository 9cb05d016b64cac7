package store

import (
	"sort"
	"sync"
	"time"

	"EconLab/internal/model"
)

// MemoryStore keeps everything in process memory. It implements the same
// contract as the SQL stores, including first-writer-wins on
// AppendRoundAndAdvance, and is what the state machine tests run against.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	rounds   map[string][]model.RoundRecord
	state    model.ExperimentState
}

// NewMemoryStore returns an empty in-memory store with the experiment open.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*model.Session),
		rounds:   make(map[string][]model.RoundRecord),
		state: model.ExperimentState{
			IsOpen:    true,
			Title:     DefaultTitle,
			CreatedAt: time.Now(),
		},
	}
}

func (m *MemoryStore) CreateSession(sess *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *sess
	m.sessions[sess.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSession(id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (m *MemoryStore) GetRound(id string, roundIndex int) (*model.RoundRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.rounds[id] {
		if rec.RoundIndex == roundIndex {
			cp := rec
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetRounds(id string) ([]model.RoundRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := m.rounds[id]
	out := make([]model.RoundRecord, len(recs))
	copy(out, recs)
	return out, nil
}

func (m *MemoryStore) AppendRoundAndAdvance(id string, rec *model.RoundRecord, done *Completion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if sess.CurrentRound != rec.RoundIndex-1 {
		return ErrConflict
	}

	sess.CurrentRound = rec.RoundIndex
	m.rounds[id] = append(m.rounds[id], *rec)
	if done != nil {
		sess.FinalPayoff = done.FinalPayoff
		sess.AverageX = done.AverageX
		sess.Completed = true
	}
	return nil
}

func (m *MemoryStore) SaveDemographics(id string, d model.Demographics) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.Demographics = d
	return nil
}

func (m *MemoryStore) ExperimentState() (*model.ExperimentState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := m.state
	return &cp, nil
}

func (m *MemoryStore) SetExperimentOpen(open bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.IsOpen = open
	return nil
}

func (m *MemoryStore) ListAllSessions() ([]SessionExport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SessionExport, 0, len(m.sessions))
	for id, sess := range m.sessions {
		recs := make([]model.RoundRecord, len(m.rounds[id]))
		copy(recs, m.rounds[id])
		out = append(out, SessionExport{Session: *sess, Rounds: recs})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Session, out[j].Session
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (m *MemoryStore) Counts() (sessions, decisions int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, recs := range m.rounds {
		decisions += len(recs)
	}
	return len(m.sessions), decisions, nil
}

func (m *MemoryStore) DeleteAllSessions() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions = make(map[string]*model.Session)
	m.rounds = make(map[string][]model.RoundRecord)
	return nil
}

func (m *MemoryStore) PurgeAbandoned(before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, sess := range m.sessions {
		if !sess.Completed && sess.CreatedAt.Before(before) {
			delete(m.sessions, id)
			delete(m.rounds, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Close() error { return nil }
