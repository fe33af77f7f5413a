package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"gopac/domain/core"
	"gopac/internal/aggregate"
	"gopac/internal/errors"
)

// Checkpoint is a resumable prefix of a run. Snapshot covers anchors
// [Snapshot.FirstIndex, NextIndex). ResumeIndex and ResumePrime identify the
// first prime the resumed stream must yield so that correction neighbours
// below NextIndex can be rebuilt.
type Checkpoint struct {
	RunID       core.RunID
	ConfigHash  core.ConfigHash
	NextIndex   uint64
	ResumeIndex uint64
	ResumePrime uint64
	Snapshot    *aggregate.Snapshot
	CreatedAt   time.Time
}

type row struct {
	ConfigHash  string    `db:"config_hash"`
	RunID       string    `db:"run_id"`
	NextIndex   int64     `db:"next_index"`
	ResumeIndex int64     `db:"resume_index"`
	ResumePrime int64     `db:"resume_prime"`
	Fingerprint string    `db:"fingerprint"`
	Snapshot    string    `db:"snapshot"`
	CreatedAt   time.Time `db:"created_at"`
}

// Store persists checkpoints through database/sql via sqlx.
type Store struct {
	db *sqlx.DB
}

// Open connects to driver ("sqlite3" or "postgres") and ensures the schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.DatabaseError("failed to open checkpoint store", err)
	}
	if driver == "sqlite3" {
		// in-memory databases are per connection
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.DatabaseError("failed to reach checkpoint store", err)
	}
	s := NewStore(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing connection.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close releases the connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the checkpoint table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS pac_checkpoints (
			config_hash  TEXT      NOT NULL,
			run_id       TEXT      NOT NULL,
			next_index   BIGINT    NOT NULL,
			resume_index BIGINT    NOT NULL,
			resume_prime BIGINT    NOT NULL,
			fingerprint  TEXT      NOT NULL,
			snapshot     TEXT      NOT NULL,
			created_at   TIMESTAMP NOT NULL,
			PRIMARY KEY (config_hash, next_index)
		)
	`)
	if err != nil {
		return errors.DatabaseError("failed to create pac_checkpoints table", err)
	}
	return nil
}

// Save writes a checkpoint, replacing one with the same config hash and
// next index.
func (s *Store) Save(ctx context.Context, cp Checkpoint) error {
	if cp.Snapshot == nil {
		return errors.InvalidInput("checkpoint has no snapshot")
	}
	if cp.NextIndex != cp.Snapshot.NextIndex {
		return errors.InvalidInput(fmt.Sprintf("checkpoint next index %d disagrees with snapshot %d", cp.NextIndex, cp.Snapshot.NextIndex))
	}
	data, err := json.Marshal(cp.Snapshot)
	if err != nil {
		return errors.Wrap(err, "failed to encode snapshot")
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}

	query := s.db.Rebind(`
		INSERT INTO pac_checkpoints (config_hash, run_id, next_index, resume_index, resume_prime, fingerprint, snapshot, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (config_hash, next_index) DO UPDATE SET
			run_id = excluded.run_id,
			resume_index = excluded.resume_index,
			resume_prime = excluded.resume_prime,
			fingerprint = excluded.fingerprint,
			snapshot = excluded.snapshot,
			created_at = excluded.created_at
	`)
	_, err = s.db.ExecContext(ctx, query,
		cp.ConfigHash.String(), cp.RunID.String(),
		int64(cp.NextIndex), int64(cp.ResumeIndex), int64(cp.ResumePrime),
		core.NewHash(data).String(), string(data), cp.CreatedAt)
	if err != nil {
		return errors.DatabaseError("failed to save checkpoint", err)
	}
	return nil
}

// Latest returns the furthest checkpoint for a configuration, or an error
// wrapping core.ErrNoCheckpoint.
func (s *Store) Latest(ctx context.Context, hash core.ConfigHash) (*Checkpoint, error) {
	var r row
	err := s.db.GetContext(ctx, &r, s.db.Rebind(`
		SELECT config_hash, run_id, next_index, resume_index, resume_prime, fingerprint, snapshot, created_at
		FROM pac_checkpoints
		WHERE config_hash = ?
		ORDER BY next_index DESC
		LIMIT 1
	`), hash.String())
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w for config %s", core.ErrNoCheckpoint, hash.String())
	}
	if err != nil {
		return nil, errors.DatabaseError("failed to load checkpoint", err)
	}

	if got := core.NewHash([]byte(r.Snapshot)); got.String() != r.Fingerprint {
		return nil, fmt.Errorf("%w: checkpoint at n=%d", core.ErrHashMismatch, r.NextIndex)
	}
	var snap aggregate.Snapshot
	if err := json.Unmarshal([]byte(r.Snapshot), &snap); err != nil {
		return nil, errors.Wrap(err, "failed to decode snapshot")
	}
	runID, err := core.ParseRunID(r.RunID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse run id")
	}
	return &Checkpoint{
		RunID:       runID,
		ConfigHash:  core.ConfigHash(r.ConfigHash),
		NextIndex:   uint64(r.NextIndex),
		ResumeIndex: uint64(r.ResumeIndex),
		ResumePrime: uint64(r.ResumePrime),
		Snapshot:    &snap,
		CreatedAt:   r.CreatedAt,
	}, nil
}

// Prune deletes the checkpoints of a configuration whose next index is below before.
func (s *Store) Prune(ctx context.Context, hash core.ConfigHash, before uint64) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM pac_checkpoints WHERE config_hash = ? AND next_index < ?
	`), hash.String(), int64(before))
	if err != nil {
		return 0, errors.DatabaseError("failed to prune checkpoints", err)
	}
	return res.RowsAffected()
}
