package postgres

const schema = `
CREATE TABLE IF NOT EXISTS devices (
    serial      TEXT PRIMARY KEY,
    name        TEXT NOT NULL DEFAULT '',
    owner       TEXT NOT NULL DEFAULT '',
    location    TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL,
    motor_state TEXT NOT NULL,
    last_seen   TIMESTAMPTZ,
    meta        JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS devices_owner_idx ON devices(owner);
CREATE INDEX IF NOT EXISTS devices_last_seen_idx ON devices(status, last_seen);

CREATE TABLE IF NOT EXISTS commands (
    id            TEXT PRIMARY KEY,
    device_serial TEXT NOT NULL REFERENCES devices(serial) ON DELETE CASCADE,
    issuer        TEXT NOT NULL DEFAULT '',
    command       TEXT NOT NULL,
    params        JSONB NOT NULL DEFAULT 'null'::jsonb,
    status        TEXT NOT NULL,
    result        JSONB NOT NULL DEFAULT 'null'::jsonb,
    created_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS commands_device_idx ON commands(device_serial, created_at DESC);
CREATE INDEX IF NOT EXISTS commands_status_idx ON commands(status, created_at);

CREATE TABLE IF NOT EXISTS sensor_readings (
    id            BIGSERIAL PRIMARY KEY,
    device_serial TEXT NOT NULL REFERENCES devices(serial) ON DELETE CASCADE,
    type          TEXT NOT NULL,
    value         JSONB NOT NULL,
    unit          TEXT NOT NULL DEFAULT '',
    meta          JSONB NOT NULL DEFAULT '{}'::jsonb,
    ts            TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS sensor_readings_device_idx ON sensor_readings(device_serial, ts DESC);

CREATE TABLE IF NOT EXISTS events (
    id            BIGSERIAL PRIMARY KEY,
    device_serial TEXT NOT NULL REFERENCES devices(serial) ON DELETE CASCADE,
    event_type    TEXT NOT NULL,
    message       TEXT NOT NULL DEFAULT '',
    payload       JSONB NOT NULL DEFAULT '{}'::jsonb,
    severity      TEXT NOT NULL,
    ts            TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS events_device_idx ON events(device_serial, ts DESC);
`
