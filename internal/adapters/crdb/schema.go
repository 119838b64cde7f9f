package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INT8 PRIMARY KEY DEFAULT unique_rowid(),
	name STRING NOT NULL,
	date DATE NOT NULL,
	total_tickets INT8 NOT NULL CHECK (total_tickets >= 0),
	tickets_available INT8 NOT NULL CHECK (tickets_available >= 0),
	CONSTRAINT events_name_date_key UNIQUE (name, date),
	CONSTRAINT events_available_le_total CHECK (tickets_available <= total_tickets)
);

CREATE TABLE IF NOT EXISTS bookings (
	id INT8 PRIMARY KEY DEFAULT unique_rowid(),
	event_id INT8 NOT NULL REFERENCES events (id),
	quantity INT8 NOT NULL CHECK (quantity > 0),
	idempotency_key STRING NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT bookings_idempotency_key_key UNIQUE (idempotency_key),
	INDEX bookings_event_id_idx (event_id)
);

CREATE TABLE IF NOT EXISTS outbox (
	id UUID PRIMARY KEY,
	aggregate_type STRING NOT NULL,
	aggregate_id INT8 NOT NULL,
	event_type STRING NOT NULL,
	payload_json JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ NULL,
	status STRING NOT NULL CHECK (status IN ('NEW', 'PUBLISHED')),
	dedupe_key STRING NOT NULL,
	INDEX outbox_status_created_idx (status, created_at)
);
`

// Migrate creates the schema. Safe to run on every start.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schema)
	return errors.Wrap(err, "migrate schema")
}
