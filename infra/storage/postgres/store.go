// Package postgres implements store.Store on PostgreSQL through a pgx
// connection pool. JSON values are kept in JSONB columns; read-modify-write
// updates lock the row with SELECT ... FOR UPDATE.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kilianp07/smartdryer/core/model"
	"github.com/kilianp07/smartdryer/core/store"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// Store persists devices, commands, readings and events in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn, checks the connection and ensures the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, store.Persistence("postgres connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, store.Persistence("postgres ping", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, store.Persistence("postgres schema", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// mapErr translates driver errors into the store error vocabulary.
func mapErr(op, kind, key string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.NotFound(kind, key)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%s %q: %w", kind, key, model.ErrConflict)
		case codeForeignKeyViolation:
			return fmt.Errorf("%s: %w", op, model.ErrNotFound)
		}
	}
	return store.Persistence(op, err)
}

func encode(v model.Value) (string, error) {
	b, err := v.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrDecode, err)
	}
	return string(b), nil
}

func decode(raw []byte) (model.Value, error) {
	if len(raw) == 0 {
		return model.Null(), nil
	}
	v, err := model.ParseValue(raw)
	if err != nil {
		return model.Value{}, store.Persistence("decode stored json", err)
	}
	return v, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// where accumulates conditions with numbered placeholders.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(w.args))))
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func (w *where) limit(n int) string {
	if n <= 0 {
		return ""
	}
	w.args = append(w.args, n)
	return " LIMIT $" + strconv.Itoa(len(w.args))
}

const deviceColumns = `serial, name, owner, location, status, motor_state, last_seen, meta, created_at, updated_at`

func scanDevice(row pgx.Row) (model.Device, error) {
	var (
		d                  model.Device
		status, motorState string
		lastSeen           *time.Time
		meta               []byte
	)
	if err := row.Scan(&d.Serial, &d.Name, &d.Owner, &d.Location, &status, &motorState, &lastSeen, &meta, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return model.Device{}, err
	}
	d.Status = model.ConnStatus(status)
	d.MotorState = model.MotorState(motorState)
	if lastSeen != nil {
		d.LastSeen = lastSeen.UTC()
	}
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
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
	_, err = s.pool.Exec(ctx, `INSERT INTO devices (`+deviceColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.Serial, d.Name, d.Owner, d.Location, string(d.Status), string(d.MotorState),
		nullableTime(d.LastSeen), meta, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return mapErr("insert device", "device", d.Serial, err)
	}
	return nil
}

func (s *Store) GetDevice(ctx context.Context, serial string) (model.Device, error) {
	d, err := scanDevice(s.pool.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE serial = $1`, serial))
	if err != nil && !errors.Is(err, model.ErrPersistence) {
		return model.Device{}, mapErr("get device", "device", serial, err)
	}
	return d, err
}

func (s *Store) queryDevices(ctx context.Context, w *where) ([]model.Device, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+deviceColumns+` FROM devices`+w.String()+` ORDER BY serial`, w.args...)
	if err != nil {
		return nil, store.Persistence("list devices", err)
	}
	defer rows.Close()
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
	w := &where{}
	if f.Owner != "" {
		w.add("owner = ?", f.Owner)
	}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	return s.queryDevices(ctx, w)
}

func (s *Store) StaleDevices(ctx context.Context, before time.Time) ([]model.Device, error) {
	w := &where{}
	w.add("status <> ?", string(model.StatusOffline))
	w.add("last_seen IS NOT NULL AND last_seen < ?", before)
	return s.queryDevices(ctx, w)
}

func (s *Store) UpdateDevice(ctx context.Context, serial string, fn store.DeviceMutator) (model.Device, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Device{}, store.Persistence("update device", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanDevice(tx.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE serial = $1 FOR UPDATE`, serial))
	if err != nil {
		if errors.Is(err, model.ErrPersistence) {
			return model.Device{}, err
		}
		return model.Device{}, mapErr("lock device", "device", serial, err)
	}
	d := cur
	if err := fn(&d); err != nil {
		if errors.Is(err, store.ErrSkip) {
			return cur, nil
		}
		return cur, err
	}
	meta, err := encode(d.Meta.OrEmpty())
	if err != nil {
		return cur, err
	}
	_, err = tx.Exec(ctx, `UPDATE devices SET name = $1, owner = $2, location = $3, status = $4, motor_state = $5,
        last_seen = $6, meta = $7, updated_at = $8 WHERE serial = $9`,
		d.Name, d.Owner, d.Location, string(d.Status), string(d.MotorState),
		nullableTime(d.LastSeen), meta, d.UpdatedAt, serial)
	if err != nil {
		return cur, store.Persistence("update device", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return cur, store.Persistence("commit device", err)
	}
	d.Serial = serial
	d.Meta = d.Meta.OrEmpty()
	return d, nil
}

const commandColumns = `id, device_serial, issuer, command, params, status, result, created_at, updated_at`

func scanCommand(row pgx.Row) (model.Command, error) {
	var (
		c              model.Command
		verb, status   string
		params, result []byte
	)
	if err := row.Scan(&c.ID, &c.DeviceSerial, &c.Issuer, &verb, &params, &status, &result, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return model.Command{}, err
	}
	c.Verb = model.Verb(verb)
	c.Status = model.CommandStatus(status)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
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
	_, err = s.pool.Exec(ctx, `INSERT INTO commands (`+commandColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.DeviceSerial, c.Issuer, string(c.Verb), params, string(c.Status), result, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation {
			return store.NotFound("device", c.DeviceSerial)
		}
		return mapErr("insert command", "command", c.ID, err)
	}
	return nil
}

func (s *Store) GetCommand(ctx context.Context, id string) (model.Command, error) {
	c, err := scanCommand(s.pool.QueryRow(ctx, `SELECT `+commandColumns+` FROM commands WHERE id = $1`, id))
	if err != nil && !errors.Is(err, model.ErrPersistence) {
		return model.Command{}, mapErr("get command", "command", id, err)
	}
	return c, err
}

func (s *Store) UpdateCommand(ctx context.Context, id string, fn store.CommandMutator) (model.Command, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Command{}, store.Persistence("update command", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanCommand(tx.QueryRow(ctx, `SELECT `+commandColumns+` FROM commands WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, model.ErrPersistence) {
			return model.Command{}, err
		}
		return model.Command{}, mapErr("lock command", "command", id, err)
	}
	c := cur
	if err := fn(&c); err != nil {
		if errors.Is(err, store.ErrSkip) {
			return cur, nil
		}
		return cur, err
	}
	params, err := encode(c.Params)
	if err != nil {
		return cur, err
	}
	result, err := encode(c.Result)
	if err != nil {
		return cur, err
	}
	_, err = tx.Exec(ctx, `UPDATE commands SET issuer = $1, command = $2, params = $3, status = $4, result = $5, updated_at = $6 WHERE id = $7`,
		c.Issuer, string(c.Verb), params, string(c.Status), result, c.UpdatedAt, id)
	if err != nil {
		return cur, store.Persistence("update command", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return cur, store.Persistence("commit command", err)
	}
	c.ID = id
	return c, nil
}

func (s *Store) ListCommands(ctx context.Context, f store.CommandFilter) ([]model.Command, error) {
	w := &where{}
	if f.DeviceSerial != "" {
		w.add("device_serial = ?", f.DeviceSerial)
	}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if f.Verb != "" {
		w.add("command = ?", string(f.Verb))
	}
	if !f.CreatedBefore.IsZero() {
		w.add("created_at < ?", f.CreatedBefore)
	}
	query := `SELECT ` + commandColumns + ` FROM commands` + w.String() + ` ORDER BY created_at DESC, id DESC`
	query += w.limit(f.Limit)
	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, store.Persistence("list commands", err)
	}
	defer rows.Close()
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

// AppendReadings inserts every reading in one batch inside a transaction so
// either all or none are stored.
func (s *Store) AppendReadings(ctx context.Context, readings []model.SensorReading) error {
	if len(readings) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range readings {
		value, err := encode(r.Value)
		if err != nil {
			return err
		}
		meta, err := encode(r.Meta.OrEmpty())
		if err != nil {
			return err
		}
		batch.Queue(`INSERT INTO sensor_readings (device_serial, type, value, unit, meta, ts) VALUES ($1, $2, $3, $4, $5, $6)`,
			r.DeviceSerial, string(r.Type), value, r.Unit, meta, r.Timestamp)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return store.Persistence("append readings", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	br := tx.SendBatch(ctx, batch)
	for i := range readings {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation {
				return store.NotFound("device", readings[i].DeviceSerial)
			}
			return store.Persistence("insert reading", err)
		}
	}
	if err := br.Close(); err != nil {
		return store.Persistence("append readings", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return store.Persistence("commit readings", err)
	}
	return nil
}

func (s *Store) ListReadings(ctx context.Context, f store.ReadingFilter) ([]model.SensorReading, error) {
	w := &where{}
	if f.DeviceSerial != "" {
		w.add("device_serial = ?", f.DeviceSerial)
	}
	if f.Type != "" {
		w.add("type = ?", string(f.Type))
	}
	if !f.Since.IsZero() {
		w.add("ts >= ?", f.Since)
	}
	query := `SELECT id, device_serial, type, value, unit, meta, ts FROM sensor_readings` + w.String() + ` ORDER BY ts DESC, id DESC`
	query += w.limit(f.Limit)
	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, store.Persistence("list readings", err)
	}
	defer rows.Close()
	res := []model.SensorReading{}
	for rows.Next() {
		var (
			r           model.SensorReading
			typ         string
			value, meta []byte
		)
		if err := rows.Scan(&r.ID, &r.DeviceSerial, &typ, &value, &r.Unit, &meta, &r.Timestamp); err != nil {
			return nil, store.Persistence("scan reading", err)
		}
		r.Type = model.SensorType(typ)
		r.Timestamp = r.Timestamp.UTC()
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
	_, err = s.pool.Exec(ctx, `INSERT INTO events (device_serial, event_type, message, payload, severity, ts) VALUES ($1, $2, $3, $4, $5, $6)`,
		e.DeviceSerial, e.Type, e.Message, payload, string(e.Severity), e.Timestamp)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation {
			return store.NotFound("device", e.DeviceSerial)
		}
		return store.Persistence("insert event", err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, f store.EventFilter) ([]model.Event, error) {
	w := &where{}
	if f.DeviceSerial != "" {
		w.add("device_serial = ?", f.DeviceSerial)
	}
	if f.Type != "" {
		w.add("event_type = ?", f.Type)
	}
	if !f.Since.IsZero() {
		w.add("ts >= ?", f.Since)
	}
	query := `SELECT id, device_serial, event_type, message, payload, severity, ts FROM events` + w.String() + ` ORDER BY ts DESC, id DESC`
	query += w.limit(f.Limit)
	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, store.Persistence("list events", err)
	}
	defer rows.Close()
	res := []model.Event{}
	for rows.Next() {
		var (
			e        model.Event
			severity string
			payload  []byte
		)
		if err := rows.Scan(&e.ID, &e.DeviceSerial, &e.Type, &e.Message, &payload, &severity, &e.Timestamp); err != nil {
			return nil, store.Persistence("scan event", err)
		}
		e.Severity = model.Severity(severity)
		e.Timestamp = e.Timestamp.UTC()
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
