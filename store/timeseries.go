package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure-Go sqlite driver, registers as "sqlite"

	basestation "github.com/lss-lora/basestation"
)

// Timeseries is the durable counterpart of the in-memory history ring,
// grounded on sensor_store.py's _init_db/_write_history/get_history: one
// append-only sqlite table, written best-effort on every ingest and read
// back for the api package's /history endpoint. When configured, it is
// the source Store.GetHistory queries first; the in-memory ring is used
// only if that query fails.
type Timeseries struct {
	db *sqlx.DB
}

const createHistoryTable = `
CREATE TABLE IF NOT EXISTS sensor_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	node_id INTEGER NOT NULL,
	timestamp REAL NOT NULL,
	battery_percent INTEGER,
	rssi REAL,
	snr REAL,
	values_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_node_ts ON sensor_history(node_id, timestamp);
`

// OpenTimeseries opens (creating if absent) the sqlite database at path
// and ensures the history table exists. WAL mode matches the original's
// check_same_thread=False, PRAGMA journal_mode=WAL concurrency posture.
func OpenTimeseries(path string) (*Timeseries, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open timeseries db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set WAL mode: %w", err)
	}
	if _, err := db.Exec(createHistoryTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create history table: %w", err)
	}
	return &Timeseries{db: db}, nil
}

// Close closes the underlying database handle.
func (t *Timeseries) Close() error {
	return t.db.Close()
}

type historyRow struct {
	Timestamp      float64 `db:"timestamp"`
	BatteryPercent *int    `db:"battery_percent"`
	RSSI           *float64 `db:"rssi"`
	SNR            *float64 `db:"snr"`
	ValuesJSON     string  `db:"values_json"`
}

// Write appends one history point for node nodeID. Failures are returned
// to the caller (Store logs and otherwise ignores them — a single dropped
// durable write must never interrupt ingestion).
func (t *Timeseries) Write(nodeID uint8, point HistoryPoint) error {
	raw := make(map[string]float32, len(point.Values))
	for vt, v := range point.Values {
		raw[vt.Name()] = v
	}
	blob, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("store: marshal values: %w", err)
	}
	_, err = t.db.Exec(
		`INSERT INTO sensor_history (node_id, timestamp, battery_percent, rssi, snr, values_json)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		nodeID,
		float64(point.Timestamp.UnixNano())/1e9,
		point.BatteryPercent,
		nullableFloat32(point.RSSI),
		nullableFloat32(point.SNR),
		string(blob),
	)
	return err
}

// Query returns up to limit history points for nodeID at or after since,
// oldest first, matching get_history's ORDER BY timestamp ASC contract.
func (t *Timeseries) Query(nodeID uint8, since time.Time, limit int) ([]HistoryPoint, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []historyRow
	err := t.db.Select(&rows,
		`SELECT timestamp, battery_percent, rssi, snr, values_json
		 FROM sensor_history
		 WHERE node_id = ? AND timestamp >= ?
		 ORDER BY timestamp ASC
		 LIMIT ?`,
		nodeID, float64(since.UnixNano())/1e9, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query history: %w", err)
	}

	out := make([]HistoryPoint, 0, len(rows))
	for _, r := range rows {
		var decoded map[string]float32
		if err := json.Unmarshal([]byte(r.ValuesJSON), &decoded); err != nil {
			continue // best-effort: skip malformed rows rather than fail the whole query
		}
		values := make(map[basestation.ValueType]float32, len(decoded))
		for name, v := range decoded {
			values[valueTypeByName(name)] = v
		}
		pt := HistoryPoint{
			Timestamp: time.Unix(0, int64(r.Timestamp*1e9)),
			Values:    values,
		}
		if r.BatteryPercent != nil {
			pt.BatteryPercent = uint8(*r.BatteryPercent)
		}
		if r.RSSI != nil {
			f := float32(*r.RSSI)
			pt.RSSI = &f
		}
		if r.SNR != nil {
			f := float32(*r.SNR)
			pt.SNR = &f
		}
		out = append(out, pt)
	}
	return out, nil
}

func nullableFloat32(f *float32) interface{} {
	if f == nil {
		return nil
	}
	return float64(*f)
}

func valueTypeByName(name string) basestation.ValueType {
	for vt, n := range basestation.ValueNames {
		if n == name {
			return vt
		}
	}
	return basestation.ValueGeneric
}
