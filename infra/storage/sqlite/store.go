// Package sqlite implements store.Store on an embedded SQLite database
// (modernc.org/sqlite, no cgo).
//
// The pool is limited to a single connection: SQLite allows one writer at a
// time, and routing every statement through one connection turns each
// read-modify-write transaction into an atomic step.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilianp07/smartdryer/core/model"
	"github.com/kilianp07/smartdryer/core/store"
)

// Store persists devices, commands, readings and events in SQLite.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens or creates the database at path and ensures the schema.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, store.Persistence("sqlite open", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, store.Persistence("sqlite schema", err)
	}
	return &Store{db: db}, nil
}

func dsn(path string) string {
	pragmas := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		pragmas += "&_pragma=journal_mode(WAL)"
	}
	if strings.Contains(path, "?") {
		return path + "&" + pragmas
	}
	return "file:" + path + "?" + pragmas
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nanos(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixNano()
}

func fromNanos(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(0, n.Int64).UTC()
}

func encode(v model.Value) (string, error) {
	b, err := v.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrDecode, err)
	}
	return string(b), nil
}

func decode(s string) (model.Value, error) {
	v, err := model.ParseValue([]byte(s))
	if err != nil {
		return model.Value{}, store.Persistence("decode stored json", err)
	}
	return v, nil
}

// withTx runs fn in a transaction, committing when it returns nil.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Persistence(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return store.Persistence(op, err)
	}
	return nil
}

func deviceExists(ctx context.Context, q querier, serial string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM devices WHERE serial = ?`, serial).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return store.NotFound("device", serial)
	}
	if err != nil {
		return store.Persistence("device lookup", err)
	}
	return nil
}

const deviceColumns = `serial, name, owner, location, status, motor_state, last_seen, meta, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(sc scanner) (model.Device, error) {
	var (
		d          model.Device
		lastSeen   sql.NullInt64
		meta       string
		created    int64
		updated    int64
		status     string
		motorState string
	)
	if err := sc.Scan(&d.Serial, &d.Name, &d.Owner, &d.Location, &status, &motorState, &lastSeen, &meta, &created, &updated); err != nil {
		return model.Device{}, err
	}
	d.Status = model.ConnStatus(status)
	d.MotorState = model.MotorState(motorState)
	d.LastSeen = fromNanos(lastSeen)
	d.CreatedAt = time.Unix(0, created).UTC()
	d.UpdatedAt = time.Unix(0, updated).UTC()
	v, err := decode(meta)
	if err != nil {
		return model.Device{}, err
	}
	d.Meta = v.OrEmpty()
	return d, nil
}

func (s *Store) CreateDevice(ctx context.Context, d model.Device) error {
	if d.Serial == "" {
		return fmt.Errorf("device serial required: %w", model.ErrDecode)
	}
	meta, err := encode(d.Meta.OrEmpty())
	if err != nil {
		return err
	}
	return s.withTx(ctx, "create device", func(tx *sql.Tx) error {
		switch err := deviceExists(ctx, tx, d.Serial); {
		case err == nil:
			return fmt.Errorf("device %q: %w", d.Serial, model.ErrConflict)
		case !errors.Is(err, model.ErrNotFound):
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO devices (`+deviceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.Serial, d.Name, d.Owner, d.Location, string(d.Status), string(d.MotorState),
			nanos(d.LastSeen), meta, d.CreatedAt.UnixNano(), d.UpdatedAt.UnixNano())
		if err != nil {
			return store.Persistence("insert device", err)
		}
		return nil
	})
}

func getDevice(ctx context.Context, q querier, serial string) (model.Device, error) {
	d, err := scanDevice(q.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE serial = ?`, serial))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Device{}, store.NotFound("device", serial)
	}
	if err != nil && !errors.Is(err, model.ErrPersistence) {
		return model.Device{}, store.Persistence("get device", err)
	}
	return d, err
}

func (s *Store) GetDevice(ctx context.Context, serial string) (model.Device, error) {
	return getDevice(ctx, s.db, serial)
}

func (s *Store) queryDevices(ctx context.Context, where string, args ...any) ([]model.Device, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE 1=1`+where+` ORDER BY serial`, args...)
	if err != nil {
		return nil, store.Persistence("list devices", err)
	}
	defer func() { _ = rows.Close() }()
	res := []model.Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, store.Persistence("scan device", err)
		}
		res = append(res, d)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Persistence("list devices", err)
	}
	return res, nil
}

func (s *Store) ListDevices(ctx context.Context, f store.DeviceFilter) ([]model.Device, error) {
	var where string
	var args []any
	if f.Owner != "" {
		where += ` AND owner = ?`
		args = append(args, f.Owner)
	}
	if f.Status != "" {
		where += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	return s.queryDevices(ctx, where, args...)
}

func (s *Store) StaleDevices(ctx context.Context, before time.Time) ([]model.Device, error) {
	return s.queryDevices(ctx, ` AND status <> ? AND last_seen IS NOT NULL AND last_seen < ?`,
		string(model.StatusOffline), before.UnixNano())
}

func (s *Store) UpdateDevice(ctx context.Context, serial string, fn store.DeviceMutator) (model.Device, error) {
	var out model.Device
	err := s.withTx(ctx, "update device", func(tx *sql.Tx) error {
		cur, err := getDevice(ctx, tx, serial)
		if err != nil {
			return err
		}
		out = cur
		d := cur
		if err := fn(&d); err != nil {
			return err
		}
		meta, err := encode(d.Meta.OrEmpty())
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE devices SET name = ?, owner = ?, location = ?, status = ?, motor_state = ?,
            last_seen = ?, meta = ?, updated_at = ? WHERE serial = ?`,
			d.Name, d.Owner, d.Location, string(d.Status), string(d.MotorState),
			nanos(d.LastSeen), meta, d.UpdatedAt.UnixNano(), serial)
		if err != nil {
			return store.Persistence("update device", err)
		}
		d.Serial = serial
		d.Meta = d.Meta.OrEmpty()
		out = d
		return nil
	})
	if errors.Is(err, store.ErrSkip) {
		return out, nil
	}
	return out, err
}

const commandColumns = `id, device_serial, issuer, command, params, status, result, created_at, updated_at`

func scanCommand(sc scanner) (model.Command, error) {
	var (
		c                model.Command
		verb, status     string
		params, result   string
		created, updated int64
	)
	if err := sc.Scan(&c.ID, &c.DeviceSerial, &c.Issuer, &verb, &params, &status, &result, &created, &updated); err != nil {
		return model.Command{}, err
	}
	c.Verb = model.Verb(verb)
	c.Status = model.CommandStatus(status)
	c.CreatedAt = time.Unix(0, created).UTC()
	c.UpdatedAt = time.Unix(0, updated).UTC()
	var err error
	if c.Params, err = decode(params); err != nil {
		return model.Command{}, err
	}
	if c.Result, err = decode(result); err != nil {
		return model.Command{}, err
	}
	return c, nil
}

func (s *Store) CreateCommand(ctx context.Context, c model.Command) error {
	if c.ID == "" {
		return fmt.Errorf("command id required: %w", model.ErrDecode)
	}
	params, err := encode(c.Params)
	if err != nil {
		return err
	}
	result, err := encode(c.Result)
	if err != nil {
		return err
	}
	return s.withTx(ctx, "create command", func(tx *sql.Tx) error {
		if err := deviceExists(ctx, tx, c.DeviceSerial); err != nil {
			return err
		}
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM commands WHERE id = ?`, c.ID).Scan(&one)
		if err == nil {
			return fmt.Errorf("command %q: %w", c.ID, model.ErrConflict)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return store.Persistence("command lookup", err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO commands (`+commandColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.DeviceSerial, c.Issuer, string(c.Verb), params, string(c.Status), result,
			c.CreatedAt.UnixNano(), c.UpdatedAt.UnixNano())
		if err != nil {
			return store.Persistence("insert command", err)
		}
		return nil
	})
}

func getCommand(ctx context.Context, q querier, id string) (model.Command, error) {
	c, err := scanCommand(q.QueryRowContext(ctx, `SELECT `+commandColumns+` FROM commands WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Command{}, store.NotFound("command", id)
	}
	if err != nil && !errors.Is(err, model.ErrPersistence) {
		return model.Command{}, store.Persistence("get command", err)
	}
	return c, err
}

func (s *Store) GetCommand(ctx context.Context, id string) (model.Command, error) {
	return getCommand(ctx, s.db, id)
}

func (s *Store) UpdateCommand(ctx context.Context, id string, fn store.CommandMutator) (model.Command, error) {
	var out model.Command
	err := s.withTx(ctx, "update command", func(tx *sql.Tx) error {
		cur, err := getCommand(ctx, tx, id)
		if err != nil {
			return err
		}
		out = cur
		c := cur
		if err := fn(&c); err != nil {
			return err
		}
		params, err := encode(c.Params)
		if err != nil {
			return err
		}
		result, err := encode(c.Result)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE commands SET issuer = ?, command = ?, params = ?, status = ?, result = ?, updated_at = ? WHERE id = ?`,
			c.Issuer, string(c.Verb), params, string(c.Status), result, c.UpdatedAt.UnixNano(), id)
		if err != nil {
			return store.Persistence("update command", err)
		}
		c.ID = id
		out = c
		return nil
	})
	if errors.Is(err, store.ErrSkip) {
		return out, nil
	}
	return out, err
}

func (s *Store) ListCommands(ctx context.Context, f store.CommandFilter) ([]model.Command, error) {
	query := `SELECT ` + commandColumns + ` FROM commands WHERE 1=1`
	var args []any
	if f.DeviceSerial != "" {
		query += ` AND device_serial = ?`
		args = append(args, f.DeviceSerial)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Verb != "" {
		query += ` AND command = ?`
		args = append(args, string(f.Verb))
	}
	if !f.CreatedBefore.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, f.CreatedBefore.UnixNano())
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.Persistence("list commands", err)
	}
	defer func() { _ = rows.Close() }()
	res := []model.Command{}
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, store.Persistence("scan command", err)
		}
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Persistence("list commands", err)
	}
	return res, nil
}

func (s *Store) AppendReadings(ctx context.Context, readings []model.SensorReading) error {
	if len(readings) == 0 {
		return nil
	}
	return s.withTx(ctx, "append readings", func(tx *sql.Tx) error {
		checked := map[string]bool{}
		for _, r := range readings {
			if checked[r.DeviceSerial] {
				continue
			}
			if err := deviceExists(ctx, tx, r.DeviceSerial); err != nil {
				return err
			}
			checked[r.DeviceSerial] = true
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO sensor_readings (device_serial, type, value, unit, meta, ts) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return store.Persistence("prepare reading insert", err)
		}
		defer func() { _ = stmt.Close() }()
		for _, r := range readings {
			value, err := encode(r.Value)
			if err != nil {
				return err
			}
			meta, err := encode(r.Meta.OrEmpty())
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, r.DeviceSerial, string(r.Type), value, r.Unit, meta, r.Timestamp.UnixNano()); err != nil {
				return store.Persistence("insert reading", err)
			}
		}
		return nil
	})
}

func (s *Store) ListReadings(ctx context.Context, f store.ReadingFilter) ([]model.SensorReading, error) {
	query := `SELECT id, device_serial, type, value, unit, meta, ts FROM sensor_readings WHERE 1=1`
	var args []any
	if f.DeviceSerial != "" {
		query += ` AND device_serial = ?`
		args = append(args, f.DeviceSerial)
	}
	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(f.Type))
	}
	if !f.Since.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, f.Since.UnixNano())
	}
	query += ` ORDER BY ts DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.Persistence("list readings", err)
	}
	defer func() { _ = rows.Close() }()
	res := []model.SensorReading{}
	for rows.Next() {
		var (
			r           model.SensorReading
			typ         string
			value, meta string
			ts          int64
		)
		if err := rows.Scan(&r.ID, &r.DeviceSerial, &typ, &value, &r.Unit, &meta, &ts); err != nil {
			return nil, store.Persistence("scan reading", err)
		}
		r.Type = model.SensorType(typ)
		r.Timestamp = time.Unix(0, ts).UTC()
		if r.Value, err = decode(value); err != nil {
			return nil, err
		}
		if r.Meta, err = decode(meta); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Persistence("list readings", err)
	}
	return res, nil
}

func (s *Store) AppendEvent(ctx context.Context, e model.Event) error {
	payload, err := encode(e.Payload.OrEmpty())
	if err != nil {
		return err
	}
	if e.Severity == "" {
		e.Severity = model.SeverityInfo
	}
	return s.withTx(ctx, "append event", func(tx *sql.Tx) error {
		if err := deviceExists(ctx, tx, e.DeviceSerial); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO events (device_serial, event_type, message, payload, severity, ts) VALUES (?, ?, ?, ?, ?, ?)`,
			e.DeviceSerial, e.Type, e.Message, payload, string(e.Severity), e.Timestamp.UnixNano())
		if err != nil {
			return store.Persistence("insert event", err)
		}
		return nil
	})
}

func (s *Store) ListEvents(ctx context.Context, f store.EventFilter) ([]model.Event, error) {
	query := `SELECT id, device_serial, event_type, message, payload, severity, ts FROM events WHERE 1=1`
	var args []any
	if f.DeviceSerial != "" {
		query += ` AND device_serial = ?`
		args = append(args, f.DeviceSerial)
	}
	if f.Type != "" {
		query += ` AND event_type = ?`
		args = append(args, f.Type)
	}
	if !f.Since.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, f.Since.UnixNano())
	}
	query += ` ORDER BY ts DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.Persistence("list events", err)
	}
	defer func() { _ = rows.Close() }()
	res := []model.Event{}
	for rows.Next() {
		var (
			e        model.Event
			payload  string
			severity string
			ts       int64
		)
		if err := rows.Scan(&e.ID, &e.DeviceSerial, &e.Type, &e.Message, &payload, &severity, &ts); err != nil {
			return nil, store.Persistence("scan event", err)
		}
		e.Severity = model.Severity(severity)
		e.Timestamp = time.Unix(0, ts).UTC()
		if e.Payload, err = decode(payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Persistence("list events", err)
	}
	return res, nil
}
