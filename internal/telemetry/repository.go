package telemetry

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmtorralvo/iot-hub-core/internal/infrastructure/database"
)

// ReadingRepository persists and queries sensor readings.
type ReadingRepository interface {
	// InsertBatch writes every sensor in the batch inside one transaction.
	// Either all readings are stored or none are.
	InsertBatch(ctx context.Context, batch *Batch) error

	// GetLatest returns the most recent readings for a sensor type,
	// newest first, capped at limit.
	GetLatest(ctx context.Context, sensorType string, limit int) ([]Reading, error)
}

// StateRepository persists the LED actuator state (singleton row).
type StateRepository interface {
	Get(ctx context.Context) (State, error)
	Set(ctx context.Context, s State) error
}

// SQLiteReadingRepository stores readings in the sensor_data table.
type SQLiteReadingRepository struct {
	db *database.DB
}

// NewReadingRepository creates a reading repository backed by SQLite.
func NewReadingRepository(db *database.DB) *SQLiteReadingRepository {
	return &SQLiteReadingRepository{db: db}
}

// InsertBatch writes all readings of a batch in a single transaction.
func (r *SQLiteReadingRepository) InsertBatch(ctx context.Context, batch *Batch) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("inserting sensor batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op if committed

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sensor_data (device_name, sensor_type, value) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("inserting sensor batch: %w", err)
	}
	defer stmt.Close() //nolint:errcheck // Read-only cleanup

	for _, s := range batch.Sensors {
		if _, err := stmt.ExecContext(ctx, batch.Device, s.Type, s.Value); err != nil {
			return fmt.Errorf("inserting sensor reading %s/%s: %w", batch.Device, s.Type, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing sensor batch: %w", err)
	}

	return nil
}

// GetLatest returns the newest readings for a sensor type, newest first.
func (r *SQLiteReadingRepository) GetLatest(ctx context.Context, sensorType string, limit int) ([]Reading, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT device_name, sensor_type, value, timestamp
		 FROM sensor_data
		 WHERE sensor_type = ?
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`,
		sensorType, limit)
	if err != nil {
		return nil, fmt.Errorf("querying latest readings: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cleanup

	var readings []Reading
	for rows.Next() {
		var rd Reading
		if err := rows.Scan(&rd.Device, &rd.Type, &rd.Value, &rd.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		readings = append(readings, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}

	return readings, nil
}

// SQLiteStateRepository stores the LED state in the led_state table.
// The table holds exactly one row (id=1), seeded by the initial migration.
type SQLiteStateRepository struct {
	db *database.DB
}

// NewStateRepository creates a state repository backed by SQLite.
func NewStateRepository(db *database.DB) *SQLiteStateRepository {
	return &SQLiteStateRepository{db: db}
}

// Get reads the current LED state.
func (r *SQLiteStateRepository) Get(ctx context.Context) (State, error) {
	var s State
	err := r.db.QueryRowContext(ctx,
		`SELECT red, green FROM led_state WHERE id = 1`).Scan(&s.Red, &s.Green)
	if err != nil {
		if err == sql.ErrNoRows {
			// Singleton row missing (fresh database without migration seed).
			return State{}, nil
		}
		return State{}, fmt.Errorf("reading LED state: %w", err)
	}
	return s, nil
}

// Set persists a new LED state, creating the singleton row if needed.
func (r *SQLiteStateRepository) Set(ctx context.Context, s State) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO led_state (id, red, green) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET red = excluded.red, green = excluded.green`,
		s.Red, s.Green)
	if err != nil {
		return fmt.Errorf("writing LED state: %w", err)
	}
	return nil
}
