package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/tigertix/internal/domain"
	"github.com/robertarktes/tigertix/internal/observability"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"

	maxTxAttempts = 5
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ domain.EventStore = (*Repository)(nil)

// WithTx runs fn in a SERIALIZABLE transaction. An attempt aborted with
// 40001 committed nothing, so fn is run again from scratch a bounded number
// of times before ErrSerializationFailure is returned.
func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = r.runTx(ctx, fn)
		if !errors.Is(err, domain.ErrSerializationFailure) {
			return err
		}
		observability.DBTxRetries.Inc()
	}
	return err
}

func (r *Repository) runTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() {
		observability.DBTxDuration.Observe(time.Since(start).Seconds())
	}()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return mapTxError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapTxError(errors.Wrap(err, "commit tx"))
	}
	return nil
}

func mapTxError(err error) error {
	if pgCode(err) == SerializationFailureCode {
		return domain.ErrSerializationFailure
	}
	return err
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func (r *Repository) InTx(ctx context.Context, fn func(tx domain.EventTx) error) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&txStore{tx: tx})
	})
}

func (r *Repository) CreateEvent(ctx context.Context, ev domain.NewEvent) (domain.Event, error) {
	day, err := time.Parse(domain.DateLayout, ev.Date)
	if err != nil {
		return domain.Event{}, domain.InvalidInput("date must be a valid ISO 8601 date (YYYY-MM-DD)")
	}

	var created domain.Event
	err = r.WithTx(ctx, func(tx pgx.Tx) error {
		var id int64
		err := tx.QueryRow(ctx, `
			INSERT INTO events (name, date, total_tickets, tickets_available)
			VALUES ($1, $2, $3, $3)
			RETURNING id
		`, ev.Name, day, ev.TotalTickets).Scan(&id)
		if err != nil {
			if pgCode(err) == UniqueViolationCode {
				return domain.ErrDuplicateEvent
			}
			return errors.Wrap(err, "insert event")
		}
		created = ev.Event(id)

		msg, err := domain.EventCreatedMessage(created)
		if err != nil {
			return err
		}
		return insertOutbox(ctx, tx, msg)
	})
	if err != nil {
		return domain.Event{}, err
	}
	return created, nil
}

const eventColumns = `id, name, date, total_tickets, tickets_available`

func scanEvent(row pgx.Row) (domain.Event, error) {
	var e domain.Event
	var day time.Time
	if err := row.Scan(&e.ID, &e.Name, &day, &e.TotalTickets, &e.TicketsAvailable); err != nil {
		return domain.Event{}, err
	}
	e.Date = day.Format(domain.DateLayout)
	return e, nil
}

func (r *Repository) GetEvent(ctx context.Context, id int64) (domain.Event, error) {
	e, err := scanEvent(r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Event{}, domain.ErrEventNotFound
	}
	if err != nil {
		return domain.Event{}, errors.Wrapf(err, "get event %d", id)
	}
	return e, nil
}

func (r *Repository) ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events`
	if filter.OnlyAvailable {
		query += ` WHERE tickets_available > 0`
	}
	query += ` ORDER BY date ASC, id ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "list events")
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

const bookingColumns = `id, event_id, quantity, idempotency_key, created_at`

func scanBooking(row pgx.Row) (domain.Booking, error) {
	var b domain.Booking
	var key *string
	if err := row.Scan(&b.ID, &b.EventID, &b.Quantity, &key, &b.CreatedAt); err != nil {
		return domain.Booking{}, err
	}
	if key != nil {
		b.IdempotencyKey = *key
	}
	return b, nil
}

func (r *Repository) ListBookings(ctx context.Context, eventID int64) ([]domain.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings WHERE event_id = $1
		ORDER BY id ASC
	`, eventID)
	if err != nil {
		return nil, errors.Wrap(err, "list bookings")
	}
	defer rows.Close()

	bookings := []domain.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan booking")
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func (r *Repository) BookingByKey(ctx context.Context, key string) (*domain.Booking, error) {
	return bookingByKey(ctx, r.pool, key)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func bookingByKey(ctx context.Context, q querier, key string) (*domain.Booking, error) {
	b, err := scanBooking(q.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE idempotency_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get booking by key")
	}
	return &b, nil
}

// txStore is the EventTx view of one open transaction.
type txStore struct {
	tx pgx.Tx
}

func (s *txStore) LockEvent(ctx context.Context, id int64) (domain.Event, error) {
	e, err := scanEvent(s.tx.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Event{}, domain.ErrEventNotFound
	}
	if err != nil {
		return domain.Event{}, errors.Wrapf(err, "lock event %d", id)
	}
	return e, nil
}

func (s *txStore) DecrementAvailability(ctx context.Context, id int64, quantity int) (bool, error) {
	result, err := s.tx.Exec(ctx, `
		UPDATE events
		SET tickets_available = tickets_available - $2
		WHERE id = $1 AND tickets_available >= $2
	`, id, quantity)
	if err != nil {
		return false, errors.Wrapf(err, "decrement availability of event %d", id)
	}
	return result.RowsAffected() == 1, nil
}

func (s *txStore) InsertBooking(ctx context.Context, b *domain.Booking) error {
	var key *string
	if b.IdempotencyKey != "" {
		key = &b.IdempotencyKey
	}
	err := s.tx.QueryRow(ctx, `
		INSERT INTO bookings (event_id, quantity, idempotency_key)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, b.EventID, b.Quantity, key).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		if pgCode(err) == UniqueViolationCode {
			return domain.ErrDuplicateIntent
		}
		return errors.Wrap(err, "insert booking")
	}
	return nil
}

func (s *txStore) BookingByKey(ctx context.Context, key string) (*domain.Booking, error) {
	return bookingByKey(ctx, s.tx, key)
}

func (s *txStore) EnqueueOutbox(ctx context.Context, msg domain.OutboxMessage) error {
	return insertOutbox(ctx, s.tx, msg)
}
