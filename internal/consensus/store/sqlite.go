package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jordanhubbard/duh/internal/consensus"
)

// SQLiteRepository implements Repository using modernc.org/sqlite
// (pure-Go, no CGO).
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode and set busy timeout.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite only supports one writer at a time. Limit connections to avoid
	// contention and keep a small idle pool for read concurrency.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteRepository{db: db}, nil
}

func (s *SQLiteRepository) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			question TEXT NOT NULL,
			protocol TEXT NOT NULL,
			created_at TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			updated_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id TEXT NOT NULL REFERENCES threads(id),
			round_number INTEGER NOT NULL,
			decision TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 0,
			dissent TEXT NOT NULL DEFAULT '',
			taxonomy_intent TEXT NOT NULL DEFAULT '',
			taxonomy_category TEXT NOT NULL DEFAULT '',
			taxonomy_genus TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_thread ON turns(thread_id)`,
		`CREATE TABLE IF NOT EXISTS contributions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			turn_id INTEGER NOT NULL REFERENCES turns(id),
			model_ref TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			framing TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contributions_turn ON contributions(turn_id)`,
		`CREATE TABLE IF NOT EXISTS votes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id TEXT NOT NULL REFERENCES threads(id),
			model_ref TEXT NOT NULL,
			content TEXT NOT NULL,
			confidence REAL NOT NULL,
			strategy TEXT NOT NULL,
			aggregated_decision TEXT NOT NULL DEFAULT '',
			aggregated_confidence REAL NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_votes_thread ON votes(thread_id)`,
		`CREATE TABLE IF NOT EXISTS subtasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id TEXT NOT NULL REFERENCES threads(id),
			label TEXT NOT NULL,
			description TEXT NOT NULL,
			dependencies TEXT NOT NULL DEFAULT '[]',
			decision TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 0,
			synthesis_content TEXT NOT NULL DEFAULT '',
			synthesis_strategy TEXT NOT NULL DEFAULT '',
			synthesis_confidence REAL NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subtasks_thread ON subtasks(thread_id)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteRepository) Close() error {
	return s.db.Close()
}

func (s *SQLiteRepository) CreateThread(ctx context.Context, threadID, question, protocol string, createdAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (id, question, protocol, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		threadID, question, protocol, createdAt.UTC().Format(time.RFC3339))
	if err != nil {
		return &consensus.StorageError{Op: "create_thread", Err: err}
	}
	return nil
}

// SaveDeliberation writes every piece of rec within a single transaction,
// rolling back wholesale on the first failure per spec §6.
func (s *SQLiteRepository) SaveDeliberation(ctx context.Context, rec DeliberationRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &consensus.StorageError{Op: "begin_tx", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.saveTurns(ctx, tx, rec.ThreadID, rec.Turns); err != nil {
		return &consensus.StorageError{Op: "save_turns", Err: err}
	}
	if err := s.saveVotes(ctx, tx, rec); err != nil {
		return &consensus.StorageError{Op: "save_votes", Err: err}
	}
	if err := s.saveSubtasks(ctx, tx, rec); err != nil {
		return &consensus.StorageError{Op: "save_subtasks", Err: err}
	}
	if err := s.saveSummaries(ctx, tx, rec); err != nil {
		return &consensus.StorageError{Op: "save_summaries", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &consensus.StorageError{Op: "commit", Err: err}
	}
	return nil
}

func (s *SQLiteRepository) saveTurns(ctx context.Context, tx *sql.Tx, threadID string, turns []TurnRecord) error {
	for _, turn := range turns {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO turns (thread_id, round_number, decision, confidence, dissent,
			 taxonomy_intent, taxonomy_category, taxonomy_genus)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			threadID, turn.RoundNumber, turn.Decision, turn.Confidence, turn.Dissent,
			turn.TaxonomyIntent, turn.TaxonomyCategory, turn.TaxonomyGenus)
		if err != nil {
			return err
		}
		turnID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		for _, c := range turn.Contributions {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO contributions (turn_id, model_ref, role, content, framing)
				 VALUES (?, ?, ?, ?, ?)`,
				turnID, c.ModelRef, c.Role, c.Content, c.Framing); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *SQLiteRepository) saveVotes(ctx context.Context, tx *sql.Tx, rec DeliberationRecord) error {
	for _, v := range rec.Votes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO votes (thread_id, model_ref, content, confidence, strategy, aggregated_decision, aggregated_confidence)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.ThreadID, v.ModelRef, v.Content, v.Confidence, string(rec.VotingStrategy),
			rec.VotingDecision, rec.VotingConfidence); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteRepository) saveSubtasks(ctx context.Context, tx *sql.Tx, rec DeliberationRecord) error {
	for _, st := range rec.Subtasks {
		deps, err := json.Marshal(st.Dependencies)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO subtasks (thread_id, label, description, dependencies, decision, confidence,
			 synthesis_content, synthesis_strategy, synthesis_confidence)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ThreadID, st.Label, st.Description, string(deps), st.Decision, st.Confidence,
			rec.SynthesisContent, string(rec.SynthesisStrategy), rec.SynthesisConfidence); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteRepository) saveSummaries(ctx context.Context, tx *sql.Tx, rec DeliberationRecord) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE threads SET summary = ?, updated_at = ? WHERE id = ?`,
		rec.ThreadSummary, time.Now().UTC().Format(time.RFC3339), rec.ThreadID)
	if err != nil {
		return err
	}
	if rec.TurnSummary == "" || len(rec.Turns) == 0 {
		return nil
	}
	last := rec.Turns[len(rec.Turns)-1]
	_, err = tx.ExecContext(ctx,
		`UPDATE turns SET summary = ? WHERE thread_id = ? AND round_number = ?`,
		rec.TurnSummary, rec.ThreadID, last.RoundNumber)
	return err
}

func (s *SQLiteRepository) LoadThreadSummary(ctx context.Context, threadID string) (ThreadSummary, error) {
	var summary, updatedAt sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT summary, updated_at FROM threads WHERE id = ?`, threadID).
		Scan(&summary, &updatedAt)
	if err == sql.ErrNoRows {
		return ThreadSummary{}, nil
	}
	if err != nil {
		return ThreadSummary{}, &consensus.StorageError{Op: "load_thread_summary", Err: err}
	}
	out := ThreadSummary{ThreadID: threadID, Summary: summary.String}
	if updatedAt.Valid {
		out.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt.String)
	}
	return out, nil
}
