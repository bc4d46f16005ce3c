package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS devices (
    serial      TEXT PRIMARY KEY,
    name        TEXT NOT NULL DEFAULT '',
    owner       TEXT NOT NULL DEFAULT '',
    location    TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL,
    motor_state TEXT NOT NULL,
    last_seen   INTEGER,
    meta        TEXT NOT NULL DEFAULT '{}',
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS devices_owner_idx ON devices(owner);

CREATE TABLE IF NOT EXISTS commands (
    id            TEXT PRIMARY KEY,
    device_serial TEXT NOT NULL REFERENCES devices(serial),
    issuer        TEXT NOT NULL DEFAULT '',
    command       TEXT NOT NULL,
    params        TEXT NOT NULL DEFAULT 'null',
    status        TEXT NOT NULL,
    result        TEXT NOT NULL DEFAULT 'null',
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS commands_device_idx ON commands(device_serial, created_at);
CREATE INDEX IF NOT EXISTS commands_status_idx ON commands(status, created_at);

CREATE TABLE IF NOT EXISTS sensor_readings (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    device_serial TEXT NOT NULL REFERENCES devices(serial),
    type          TEXT NOT NULL,
    value         TEXT NOT NULL,
    unit          TEXT NOT NULL DEFAULT '',
    meta          TEXT NOT NULL DEFAULT '{}',
    ts            INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS sensor_readings_device_idx ON sensor_readings(device_serial, ts);

CREATE TABLE IF NOT EXISTS events (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    device_serial TEXT NOT NULL REFERENCES devices(serial),
    event_type    TEXT NOT NULL,
    message       TEXT NOT NULL DEFAULT '',
    payload       TEXT NOT NULL DEFAULT '{}',
    severity      TEXT NOT NULL,
    ts            INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS events_device_idx ON events(device_serial, ts);
`
