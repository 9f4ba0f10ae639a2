package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id STRING PRIMARY KEY,
	title STRING NOT NULL,
	description STRING NOT NULL,
	date TIMESTAMPTZ NOT NULL,
	location STRING NOT NULL,
	image_url STRING NOT NULL,
	price FLOAT8 NOT NULL,
	category STRING NOT NULL,
	capacity INT8 NOT NULL CHECK (capacity >= 1),
	available_tickets INT8 NOT NULL,
	created_by STRING NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	CHECK (available_tickets >= 0 AND available_tickets <= capacity),
	INDEX events_category_date (category, date)
);
CREATE TABLE IF NOT EXISTS bookings (
	id STRING PRIMARY KEY,
	event_id STRING NOT NULL,
	user_id STRING NOT NULL,
	quantity INT8 NOT NULL CHECK (quantity >= 1),
	total_price FLOAT8 NOT NULL,
	status STRING NOT NULL CHECK (status IN ('pending', 'confirmed', 'cancelled')),
	booking_date TIMESTAMPTZ NOT NULL,
	cancelled_at TIMESTAMPTZ,
	INDEX bookings_user (user_id, booking_date DESC),
	INDEX bookings_event_status (event_id, status)
);
CREATE TABLE IF NOT EXISTS users (
	id STRING PRIMARY KEY,
	name STRING NOT NULL,
	email STRING NOT NULL UNIQUE,
	password_hash STRING NOT NULL,
	role STRING NOT NULL CHECK (role IN ('user', 'admin')),
	created_at TIMESTAMPTZ NOT NULL
);
`

// EnsureSchema creates the tables the store needs if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "ensure schema")
	}
	return nil
}
