package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"

	"EconLab/internal/model"
)

// PostgresStore persists sessions to a Postgres database. Heroku-style
// postgres:// URLs are accepted as-is by lib/pq.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects using a DATABASE_URL-style connection string and
// runs migrations.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Println("[INFO] postgres store connected")
	return s, nil
}

func (s *PostgresStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id            TEXT PRIMARY KEY,
			created_at    BIGINT NOT NULL,
			name          TEXT,
			gender        TEXT,
			age           INTEGER,
			race          TEXT,
			secret_round  INTEGER NOT NULL,
			current_round INTEGER NOT NULL DEFAULT 0,
			average_x     DOUBLE PRECISION,
			final_payoff  DOUBLE PRECISION,
			completed     INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at)`,

		`CREATE TABLE IF NOT EXISTS rounds (
			session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			round_index INTEGER NOT NULL,
			investment  DOUBLE PRECISION NOT NULL,
			outcome     TEXT NOT NULL,
			wealth      DOUBLE PRECISION NOT NULL,
			decision_ms BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (session_id, round_index)
		)`,

		`CREATE TABLE IF NOT EXISTS experiment_state (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			is_open    INTEGER NOT NULL DEFAULT 1,
			title      TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}

	_, err := s.db.Exec(
		`INSERT INTO experiment_state (id, is_open, title, created_at) VALUES (1, 1, $1, $2)
		 ON CONFLICT (id) DO NOTHING`,
		DefaultTitle, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("seed experiment state: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateSession(sess *model.Session) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, created_at, secret_round, current_round) VALUES ($1, $2, $3, 0)`,
		sess.ID, sess.CreatedAt.Unix(), sess.SecretRound,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(id string) (*model.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, created_at, name, gender, age, race,
		        secret_round, current_round, average_x, final_payoff, completed
		 FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (s *PostgresStore) GetRound(id string, roundIndex int) (*model.RoundRecord, error) {
	row := s.db.QueryRow(
		`SELECT session_id, round_index, investment, outcome, wealth, decision_ms
		 FROM rounds WHERE session_id = $1 AND round_index = $2`, id, roundIndex)
	rec := &model.RoundRecord{}
	err := row.Scan(&rec.SessionID, &rec.RoundIndex, &rec.Investment, &rec.Outcome, &rec.Wealth, &rec.DecisionMS)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan round: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) GetRounds(id string) ([]model.RoundRecord, error) {
	rows, err := s.db.Query(
		`SELECT session_id, round_index, investment, outcome, wealth, decision_ms
		 FROM rounds WHERE session_id = $1 ORDER BY round_index ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()
	return collectRounds(rows)
}

func (s *PostgresStore) AppendRoundAndAdvance(id string, rec *model.RoundRecord, done *Completion) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	// Row lock on the session serializes concurrent submissions; the loser
	// re-reads after commit and matches zero rows.
	res, err := tx.Exec(
		`UPDATE sessions SET current_round = $1 WHERE id = $2 AND current_round = $3`,
		rec.RoundIndex, id, rec.RoundIndex-1,
	)
	if err != nil {
		return fmt.Errorf("advance session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance session: %w", err)
	}
	if n == 0 {
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM sessions WHERE id = $1`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check session: %w", err)
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrConflict
	}

	_, err = tx.Exec(
		`INSERT INTO rounds (session_id, round_index, investment, outcome, wealth, decision_ms)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, rec.RoundIndex, rec.Investment, string(rec.Outcome), rec.Wealth, rec.DecisionMS,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert round: %w", err)
	}

	if done != nil {
		_, err = tx.Exec(
			`UPDATE sessions SET final_payoff = $1, average_x = $2, completed = 1 WHERE id = $3`,
			done.FinalPayoff, done.AverageX, id,
		)
		if err != nil {
			return fmt.Errorf("finalize session: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveDemographics(id string, d model.Demographics) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET name = $1, gender = $2, age = $3, race = $4 WHERE id = $5`,
		nullStr(d.Name), nullStr(d.Gender), nullInt(d.Age), nullStr(d.Race), id,
	)
	if err != nil {
		return fmt.Errorf("save demographics: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ExperimentState() (*model.ExperimentState, error) {
	row := s.db.QueryRow(`SELECT is_open, title, created_at FROM experiment_state WHERE id = 1`)
	var (
		open    int
		title   string
		created int64
	)
	if err := row.Scan(&open, &title, &created); err != nil {
		return nil, fmt.Errorf("scan experiment state: %w", err)
	}
	return &model.ExperimentState{
		IsOpen:    open != 0,
		Title:     title,
		CreatedAt: time.Unix(created, 0),
	}, nil
}

func (s *PostgresStore) SetExperimentOpen(open bool) error {
	v := 0
	if open {
		v = 1
	}
	if _, err := s.db.Exec(`UPDATE experiment_state SET is_open = $1 WHERE id = 1`, v); err != nil {
		return fmt.Errorf("set experiment open: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAllSessions() ([]SessionExport, error) {
	rows, err := s.db.Query(
		`SELECT id, created_at, name, gender, age, race,
		        secret_round, current_round, average_x, final_payoff, completed
		 FROM sessions ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionExport
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, SessionExport{Session: *sess})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	for i := range out {
		recs, err := s.GetRounds(out[i].Session.ID)
		if err != nil {
			return nil, err
		}
		out[i].Rounds = recs
	}
	return out, nil
}

func (s *PostgresStore) Counts() (sessions, decisions int, err error) {
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&sessions); err != nil {
		return 0, 0, fmt.Errorf("count sessions: %w", err)
	}
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM rounds`).Scan(&decisions); err != nil {
		return 0, 0, fmt.Errorf("count rounds: %w", err)
	}
	return sessions, decisions, nil
}

func (s *PostgresStore) DeleteAllSessions() error {
	if _, err := s.db.Exec(`DELETE FROM rounds`); err != nil {
		return fmt.Errorf("delete rounds: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM sessions`); err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	return nil
}

func (s *PostgresStore) PurgeAbandoned(before time.Time) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM sessions WHERE completed = 0 AND created_at < $1`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Close() error {
	log.Println("[INFO] closing postgres store")
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
