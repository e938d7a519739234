package optimization

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/database"
)

// runsSchema is the single-table schema for persisted optimization runs.
// Scenario and consensus payloads are stored as JSON documents: runs are
// written once and read back whole, never queried by inner structure.
const runsSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	mode           TEXT NOT NULL,
	symbols        TEXT NOT NULL,
	periods        INTEGER NOT NULL,
	created_at     INTEGER NOT NULL,
	scenarios_json TEXT,
	consensus_json TEXT,
	position_json  TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
`

// RunRepository handles database operations for optimization runs.
type RunRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRunRepository creates a run repository and ensures the schema exists.
func NewRunRepository(db *database.DB, log zerolog.Logger) (*RunRepository, error) {
	if err := db.Migrate(runsSchema); err != nil {
		return nil, fmt.Errorf("migrate runs schema: %w", err)
	}
	return &RunRepository{
		db:  db,
		log: log.With().Str("component", "run_repository").Logger(),
	}, nil
}

// Save persists a run. A missing ID is assigned; a zero CreatedAt is stamped
// with the current time. Returns the stored run.
func (r *RunRepository) Save(run Run) (Run, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	symbolsJSON, err := json.Marshal(run.Symbols)
	if err != nil {
		return Run{}, fmt.Errorf("marshal symbols: %w", err)
	}

	var scenariosJSON, consensusJSON, positionJSON sql.NullString
	if len(run.Scenarios) > 0 {
		data, err := json.Marshal(run.Scenarios)
		if err != nil {
			return Run{}, fmt.Errorf("marshal scenarios: %w", err)
		}
		scenariosJSON = sql.NullString{String: string(data), Valid: true}
	}
	if run.Consensus != nil {
		data, err := json.Marshal(run.Consensus)
		if err != nil {
			return Run{}, fmt.Errorf("marshal consensus: %w", err)
		}
		consensusJSON = sql.NullString{String: string(data), Valid: true}
	}
	if len(run.Position) > 0 {
		positionJSON = sql.NullString{String: string(run.Position), Valid: true}
	}

	_, err = r.db.Exec(`
		INSERT INTO runs (id, mode, symbols, periods, created_at, scenarios_json, consensus_json, position_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Mode, string(symbolsJSON), run.Periods, run.CreatedAt.Unix(),
		scenariosJSON, consensusJSON, positionJSON)
	if err != nil {
		return Run{}, fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	r.log.Debug().
		Str("run_id", run.ID).
		Str("mode", run.Mode).
		Int("symbols", len(run.Symbols)).
		Msg("Persisted optimization run")

	return run, nil
}

// Get retrieves one run by ID. Returns sql.ErrNoRows when the ID is unknown.
func (r *RunRepository) Get(id string) (Run, error) {
	row := r.db.QueryRow(`
		SELECT id, mode, symbols, periods, created_at, scenarios_json, consensus_json, position_json
		FROM runs
		WHERE id = ?
	`, id)
	return scanRun(row)
}

// List returns the most recent runs, newest first, without their scenario
// payloads (summaries only, for listings).
func (r *RunRepository) List(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(`
		SELECT id, mode, symbols, periods, created_at
		FROM runs
		ORDER BY created_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var symbolsJSON string
		var createdAt int64
		if err := rows.Scan(&run.ID, &run.Mode, &symbolsJSON, &run.Periods, &createdAt); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		if err := json.Unmarshal([]byte(symbolsJSON), &run.Symbols); err != nil {
			return nil, fmt.Errorf("unmarshal symbols for run %s: %w", run.ID, err)
		}
		run.CreatedAt = time.Unix(createdAt, 0).UTC()
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var symbolsJSON string
	var createdAt int64
	var scenariosJSON, consensusJSON, positionJSON sql.NullString

	err := row.Scan(&run.ID, &run.Mode, &symbolsJSON, &run.Periods, &createdAt,
		&scenariosJSON, &consensusJSON, &positionJSON)
	if err != nil {
		return Run{}, err
	}

	if err := json.Unmarshal([]byte(symbolsJSON), &run.Symbols); err != nil {
		return Run{}, fmt.Errorf("unmarshal symbols for run %s: %w", run.ID, err)
	}
	run.CreatedAt = time.Unix(createdAt, 0).UTC()

	if scenariosJSON.Valid {
		if err := json.Unmarshal([]byte(scenariosJSON.String), &run.Scenarios); err != nil {
			return Run{}, fmt.Errorf("unmarshal scenarios for run %s: %w", run.ID, err)
		}
	}
	if consensusJSON.Valid {
		var consensus ConsensusResult
		if err := json.Unmarshal([]byte(consensusJSON.String), &consensus); err != nil {
			return Run{}, fmt.Errorf("unmarshal consensus for run %s: %w", run.ID, err)
		}
		run.Consensus = &consensus
	}
	if positionJSON.Valid {
		run.Position = json.RawMessage(positionJSON.String)
	}

	return run, nil
}
