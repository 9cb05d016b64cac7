package store

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"EconLab/internal/model"
)

// SQLiteStore persists sessions to a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (or creates) the SQLite database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so the admin export can read while a participant writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite store opened: %s", dbPath)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id            TEXT PRIMARY KEY,
			created_at    INTEGER NOT NULL,
			name          TEXT,
			gender        TEXT,
			age           INTEGER,
			race          TEXT,
			secret_round  INTEGER NOT NULL,
			current_round INTEGER NOT NULL DEFAULT 0,
			average_x     REAL,
			final_payoff  REAL,
			completed     INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at)`,

		`CREATE TABLE IF NOT EXISTS rounds (
			session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			round_index INTEGER NOT NULL,
			investment  REAL NOT NULL,
			outcome     TEXT NOT NULL,
			wealth      REAL NOT NULL,
			decision_ms INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (session_id, round_index)
		)`,

		`CREATE TABLE IF NOT EXISTS experiment_state (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			is_open    INTEGER NOT NULL DEFAULT 1,
			title      TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}

	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO experiment_state (id, is_open, title, created_at) VALUES (1, 1, ?, ?)`,
		DefaultTitle, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("seed experiment state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateSession(sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO sessions (id, created_at, secret_round, current_round) VALUES (?, ?, ?, 0)`,
		sess.ID, sess.CreatedAt.Unix(), sess.SecretRound,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(id string) (*model.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, created_at, name, gender, age, race,
		        secret_round, current_round, average_x, final_payoff, completed
		 FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (s *SQLiteStore) GetRound(id string, roundIndex int) (*model.RoundRecord, error) {
	row := s.db.QueryRow(
		`SELECT session_id, round_index, investment, outcome, wealth, decision_ms
		 FROM rounds WHERE session_id = ? AND round_index = ?`, id, roundIndex)
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

func (s *SQLiteStore) GetRounds(id string) ([]model.RoundRecord, error) {
	rows, err := s.db.Query(
		`SELECT session_id, round_index, investment, outcome, wealth, decision_ms
		 FROM rounds WHERE session_id = ? ORDER BY round_index ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()
	return collectRounds(rows)
}

func (s *SQLiteStore) AppendRoundAndAdvance(id string, rec *model.RoundRecord, done *Completion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	// Guarded advance: only the writer that sees the expected prior round
	// moves the session forward. A loser matches zero rows.
	res, err := tx.Exec(
		`UPDATE sessions SET current_round = ? WHERE id = ? AND current_round = ?`,
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
		if err := tx.QueryRow(`SELECT COUNT(*) FROM sessions WHERE id = ?`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check session: %w", err)
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrConflict
	}

	_, err = tx.Exec(
		`INSERT INTO rounds (session_id, round_index, investment, outcome, wealth, decision_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, rec.RoundIndex, rec.Investment, string(rec.Outcome), rec.Wealth, rec.DecisionMS,
	)
	if err != nil {
		return fmt.Errorf("insert round: %w", err)
	}

	if done != nil {
		_, err = tx.Exec(
			`UPDATE sessions SET final_payoff = ?, average_x = ?, completed = 1 WHERE id = ?`,
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

func (s *SQLiteStore) SaveDemographics(id string, d model.Demographics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE sessions SET name = ?, gender = ?, age = ?, race = ? WHERE id = ?`,
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

func (s *SQLiteStore) ExperimentState() (*model.ExperimentState, error) {
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

func (s *SQLiteStore) SetExperimentOpen(open bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := 0
	if open {
		v = 1
	}
	if _, err := s.db.Exec(`UPDATE experiment_state SET is_open = ? WHERE id = 1`, v); err != nil {
		return fmt.Errorf("set experiment open: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListAllSessions() ([]SessionExport, error) {
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

func (s *SQLiteStore) Counts() (sessions, decisions int, err error) {
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&sessions); err != nil {
		return 0, 0, fmt.Errorf("count sessions: %w", err)
	}
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM rounds`).Scan(&decisions); err != nil {
		return 0, 0, fmt.Errorf("count rounds: %w", err)
	}
	return sessions, decisions, nil
}

func (s *SQLiteStore) DeleteAllSessions() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM rounds`); err != nil {
		return fmt.Errorf("delete rounds: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM sessions`); err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PurgeAbandoned(before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`DELETE FROM rounds WHERE session_id IN
		   (SELECT id FROM sessions WHERE completed = 0 AND created_at < ?)`,
		before.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("purge rounds: %w", err)
	}
	res, err := s.db.Exec(
		`DELETE FROM sessions WHERE completed = 0 AND created_at < ?`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	log.Println("[INFO] closing sqlite store")
	return s.db.Close()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*model.Session, error) {
	var (
		sess      model.Session
		created   int64
		name      sql.NullString
		gender    sql.NullString
		age       sql.NullInt64
		race      sql.NullString
		avgX      sql.NullFloat64
		payoff    sql.NullFloat64
		completed int
	)
	err := row.Scan(&sess.ID, &created, &name, &gender, &age, &race,
		&sess.SecretRound, &sess.CurrentRound, &avgX, &payoff, &completed)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.CreatedAt = time.Unix(created, 0)
	sess.Demographics = model.Demographics{
		Name:   name.String,
		Gender: gender.String,
		Age:    int(age.Int64),
		Race:   race.String,
	}
	sess.AverageX = avgX.Float64
	sess.FinalPayoff = payoff.Float64
	sess.Completed = completed != 0
	return &sess, nil
}

func collectRounds(rows *sql.Rows) ([]model.RoundRecord, error) {
	var out []model.RoundRecord
	for rows.Next() {
		var rec model.RoundRecord
		if err := rows.Scan(&rec.SessionID, &rec.RoundIndex, &rec.Investment,
			&rec.Outcome, &rec.Wealth, &rec.DecisionMS); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rounds: %w", err)
	}
	return out, nil
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}
