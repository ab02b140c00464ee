// Package sqlitevec implements archive.Driver using SQLite with the
// sqlite-vec extension, grounded on the teacher's pkg/vector/sqlitevec
// driver. It is canopy's default, single-file, zero-external-service
// Archive backend.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/canopyhq/canopy/pkg/archive"
)

// Driver implements archive.Driver over SQLite + sqlite-vec.
type Driver struct {
	db  *sql.DB
	log *zap.Logger
}

// Config configures the driver.
type Config struct {
	// DBPath is the SQLite file path, or ":memory:" for an ephemeral store.
	DBPath string

	// Dimensions is the embedding width; every indexed record must match.
	Dimensions int
}

// New opens (creating if absent) a SQLite-vec backed archive.
func New(c Config, log *zap.Logger) (*Driver, error) {
	if log == nil {
		log = zap.NewNop()
	}

	sqlite_vec.Auto()

	if c.DBPath == "" {
		return nil, fmt.Errorf("archive/sqlitevec: database path is required")
	}
	if c.Dimensions <= 0 {
		return nil, fmt.Errorf("archive/sqlitevec: dimensions must be configured, got %d", c.Dimensions)
	}

	db, err := sql.Open("sqlite3", c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", archive.ErrConnection, err)
	}

	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: sqlite-vec not available: %v", archive.ErrConnection, err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS archive_records (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			record_id TEXT NOT NULL UNIQUE,
			node_id TEXT NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			timestamp_unix_nano INTEGER NOT NULL,
			node_title TEXT NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("archive/sqlitevec: creating records table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_archive_records_node_id ON archive_records(node_id)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive/sqlitevec: creating node_id index: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_archive_records_timestamp ON archive_records(timestamp_unix_nano)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive/sqlitevec: creating timestamp index: %w", err)
	}

	createVec := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS archive_embeddings USING vec0(embedding float[%d])`,
		c.Dimensions,
	)
	if _, err := db.Exec(createVec); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive/sqlitevec: creating vec0 table: %w", err)
	}

	log.Info("sqlite-vec archive initialized",
		zap.String("db_path", c.DBPath),
		zap.Int("dimensions", c.Dimensions),
		zap.String("vec_version", vecVersion))

	return &Driver{db: db, log: log}, nil
}

func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func deserializeFloat32(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("archive/sqlitevec: invalid embedding blob length %d", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

func (d *Driver) Index(ctx context.Context, record archive.Record) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive/sqlitevec: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO archive_records(record_id, node_id, role, text, timestamp_unix_nano, node_title)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		record.ID, record.NodeID, record.Role, record.Text, record.Timestamp.UnixNano(), record.NodeTitleAtIndexTime,
	)
	if err != nil {
		return fmt.Errorf("archive/sqlitevec: inserting record %s: %w", record.ID, err)
	}

	rowID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("archive/sqlitevec: getting rowid for %s: %w", record.ID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO archive_embeddings(rowid, embedding) VALUES (?, ?)`,
		rowID, serializeFloat32(record.Embedding),
	); err != nil {
		return fmt.Errorf("archive/sqlitevec: inserting embedding for %s: %w", record.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive/sqlitevec: committing: %w", err)
	}

	d.log.Debug("indexed archive record", zap.String("record_id", record.ID), zap.String("node_id", record.NodeID))
	return nil
}

func buildFilterSQL(filter archive.Filter, args *[]any) string {
	var clauses []string
	if filter.NodeID != "" {
		clauses = append(clauses, "d.node_id = ?")
		*args = append(*args, filter.NodeID)
	}
	if filter.Role != "" {
		clauses = append(clauses, "d.role = ?")
		*args = append(*args, filter.Role)
	}
	if len(filter.RoleIn) > 0 {
		placeholders := make([]string, len(filter.RoleIn))
		for i, r := range filter.RoleIn {
			placeholders[i] = "?"
			*args = append(*args, r)
		}
		clauses = append(clauses, fmt.Sprintf("d.role IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.MaxTimestamp != nil {
		clauses = append(clauses, "d.timestamp_unix_nano < ?")
		*args = append(*args, filter.MaxTimestamp.UnixNano())
	}
	if len(clauses) == 0 {
		return ""
	}
	return " AND " + strings.Join(clauses, " AND ")
}

func (d *Driver) Query(ctx context.Context, embedding []float32, topK int, filter archive.Filter) ([]archive.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	// sqlite-vec's vec0 KNN operator does not accept arbitrary metadata
	// predicates alongside MATCH, so over-fetch a wider KNN candidate set and
	// apply the metadata filter afterward.
	overfetch := topK * 10
	if overfetch < 50 {
		overfetch = 50
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT d.record_id, d.node_id, d.role, d.text, d.timestamp_unix_nano, d.node_title, ve.distance
		FROM archive_embeddings ve
		INNER JOIN archive_records d ON d.rowid = ve.rowid
		WHERE ve.embedding MATCH ? AND ve.k = ?
		ORDER BY ve.distance
	`, serializeFloat32(embedding), overfetch)
	if err != nil {
		return nil, fmt.Errorf("archive/sqlitevec: querying vectors: %w", err)
	}
	defer rows.Close()

	var results []archive.QueryResult
	for rows.Next() {
		var r archive.Record
		var tsNano int64
		var distance float64
		if err := rows.Scan(&r.ID, &r.NodeID, &r.Role, &r.Text, &tsNano, &r.NodeTitleAtIndexTime, &distance); err != nil {
			return nil, fmt.Errorf("archive/sqlitevec: scanning result: %w", err)
		}
		r.Timestamp = time.Unix(0, tsNano)

		if !filter.Match(r) {
			continue
		}

		results = append(results, archive.QueryResult{
			Record: r,
			Score:  float32(1.0 / (1.0 + distance)),
		})
		if len(results) >= topK {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive/sqlitevec: iterating results: %w", err)
	}

	return results, nil
}

func (d *Driver) Get(ctx context.Context, ids []string) ([]archive.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	rows, err := d.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT record_id, node_id, role, text, timestamp_unix_nano, node_title
		 FROM archive_records WHERE record_id IN (%s)`, strings.Join(placeholders, ",")),
		args...)
	if err != nil {
		return nil, fmt.Errorf("archive/sqlitevec: querying records: %w", err)
	}
	defer rows.Close()

	var out []archive.Record
	for rows.Next() {
		var r archive.Record
		var tsNano int64
		if err := rows.Scan(&r.ID, &r.NodeID, &r.Role, &r.Text, &tsNano, &r.NodeTitleAtIndexTime); err != nil {
			return nil, fmt.Errorf("archive/sqlitevec: scanning record: %w", err)
		}
		r.Timestamp = time.Unix(0, tsNano)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *Driver) QueryWindow(ctx context.Context, nodeID string, center time.Time, halfWidth time.Duration) ([]archive.Record, error) {
	lo := center.Add(-halfWidth).UnixNano()
	hi := center.Add(halfWidth).UnixNano()

	rows, err := d.db.QueryContext(ctx, `
		SELECT record_id, node_id, role, text, timestamp_unix_nano, node_title
		FROM archive_records
		WHERE node_id = ? AND timestamp_unix_nano BETWEEN ? AND ?
		ORDER BY timestamp_unix_nano ASC
	`, nodeID, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("archive/sqlitevec: querying window: %w", err)
	}
	defer rows.Close()

	var out []archive.Record
	for rows.Next() {
		var r archive.Record
		var tsNano int64
		if err := rows.Scan(&r.ID, &r.NodeID, &r.Role, &r.Text, &tsNano, &r.NodeTitleAtIndexTime); err != nil {
			return nil, fmt.Errorf("archive/sqlitevec: scanning window record: %w", err)
		}
		r.Timestamp = time.Unix(0, tsNano)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *Driver) Close() error {
	return d.db.Close()
}

var _ archive.Driver = (*Driver)(nil)
