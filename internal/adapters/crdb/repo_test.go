package crdb_test

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/tigertix/internal/adapters/crdb"
	"github.com/robertarktes/tigertix/internal/domain"
	"github.com/robertarktes/tigertix/internal/observability"
	"github.com/robertarktes/tigertix/internal/reservation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "cockroachdb container unavailable, skipping store tests: %v\n", err)
		os.Exit(m.Run())
	}

	code := func() int {
		defer container.Terminate(ctx)

		host, err := container.Host(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		port, err := container.MappedPort(ctx, "26257")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		dsn := "postgresql://root@" + host + ":" + port.Port() + "/defaultdb?sslmode=disable"
		pool, err := crdb.Connect(ctx, dsn, 20, observability.NewNopLogger())
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer pool.Close()
		if err := crdb.NewRepository(pool).Migrate(ctx); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		testPool = pool
		return m.Run()
	}()
	os.Exit(code)
}

func newRepo(t *testing.T) *crdb.Repository {
	t.Helper()
	if testPool == nil {
		t.Skip("cockroachdb not available")
	}
	_, err := testPool.Exec(context.Background(), `TRUNCATE bookings, outbox, events CASCADE`)
	require.NoError(t, err)
	return crdb.NewRepository(testPool)
}

func TestRepository_CreateAndList(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	later, err := repo.CreateEvent(ctx, domain.NewEvent{Name: "Rock Fest", Date: "2026-01-10", TotalTickets: 0})
	require.NoError(t, err)
	jazz, err := repo.CreateEvent(ctx, domain.NewEvent{Name: "Jazz Night", Date: "2025-12-01", TotalTickets: 100})
	require.NoError(t, err)
	assert.Equal(t, 100, jazz.TicketsAvailable)
	assert.Equal(t, "2025-12-01", jazz.Date)

	_, err = repo.CreateEvent(ctx, domain.NewEvent{Name: "Jazz Night", Date: "2025-12-01", TotalTickets: 10})
	assert.True(t, errors.Is(err, domain.ErrDuplicateEvent))

	all, err := repo.ListEvents(ctx, domain.EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, jazz.ID, all[0].ID)
	assert.Equal(t, later.ID, all[1].ID)

	available, err := repo.ListEvents(ctx, domain.EventFilter{OnlyAvailable: true})
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, jazz.ID, available[0].ID)

	got, err := repo.GetEvent(ctx, jazz.ID)
	require.NoError(t, err)
	assert.Equal(t, jazz, got)

	_, err = repo.GetEvent(ctx, jazz.ID+1000)
	assert.True(t, errors.Is(err, domain.ErrEventNotFound))
}

func TestRepository_ConditionalDecrement(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	ev, err := repo.CreateEvent(ctx, domain.NewEvent{Name: "Jazz Night", Date: "2025-12-01", TotalTickets: 5})
	require.NoError(t, err)

	err = repo.InTx(ctx, func(tx domain.EventTx) error {
		applied, err := tx.DecrementAvailability(ctx, ev.ID, 6)
		require.NoError(t, err)
		assert.False(t, applied)

		applied, err = tx.DecrementAvailability(ctx, ev.ID, 5)
		require.NoError(t, err)
		assert.True(t, applied)
		return tx.InsertBooking(ctx, &domain.Booking{EventID: ev.ID, Quantity: 5})
	})
	require.NoError(t, err)

	got, err := repo.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.TicketsAvailable)
}

type failingBookingStore struct {
	domain.EventStore
}

func (s failingBookingStore) InTx(ctx context.Context, fn func(tx domain.EventTx) error) error {
	return s.EventStore.InTx(ctx, func(tx domain.EventTx) error {
		return fn(failingBookingTx{tx})
	})
}

type failingBookingTx struct {
	domain.EventTx
}

func (failingBookingTx) InsertBooking(context.Context, *domain.Booking) error {
	return errors.New("disk full")
}

func TestRepository_RollbackRestoresAvailability(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	ev, err := repo.CreateEvent(ctx, domain.NewEvent{Name: "Jazz Night", Date: "2025-12-01", TotalTickets: 5})
	require.NoError(t, err)

	coord := reservation.NewCoordinator(failingBookingStore{repo}, observability.NewNopLogger())
	_, err = coord.Purchase(ctx, reservation.PurchaseRequest{EventID: ev.ID, Quantity: 2})
	require.Error(t, err)

	got, err := repo.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.TicketsAvailable)
	bookings, err := repo.ListBookings(ctx, ev.ID)
	require.NoError(t, err)
	assert.Empty(t, bookings)
}

func TestRepository_NoOversell(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	coord := reservation.NewCoordinator(repo, observability.NewNopLogger())
	ev, err := coord.CreateEvent(ctx, "Jazz Night", "2025-12-01", 5)
	require.NoError(t, err)

	results := make([]error, 2)
	var g errgroup.Group
	for i := range results {
		g.Go(func() error {
			_, results[i] = coord.Purchase(ctx, reservation.PurchaseRequest{EventID: ev.ID, Quantity: 3})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	succeeded, insufficient := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrInsufficientInventory):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, insufficient)

	got, err := repo.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TicketsAvailable)
}

func TestRepository_ManyBuyersConserveTickets(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	coord := reservation.NewCoordinator(repo, observability.NewNopLogger())
	ev, err := coord.CreateEvent(ctx, "Jazz Night", "2025-12-01", 10)
	require.NoError(t, err)

	var g errgroup.Group
	g.SetLimit(8)
	for i := 0; i < 25; i++ {
		g.Go(func() error {
			_, err := coord.Purchase(ctx, reservation.PurchaseRequest{EventID: ev.ID, Quantity: 1})
			if err != nil && !errors.Is(err, domain.ErrInsufficientInventory) && !errors.Is(err, domain.ErrSerializationFailure) {
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	got, err := repo.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	bookings, err := repo.ListBookings(ctx, ev.ID)
	require.NoError(t, err)
	sold := 0
	for _, b := range bookings {
		sold += b.Quantity
	}
	assert.GreaterOrEqual(t, got.TicketsAvailable, 0)
	assert.Equal(t, got.TotalTickets-got.TicketsAvailable, sold)
}

func TestRepository_IdempotencyKey(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	coord := reservation.NewCoordinator(repo, observability.NewNopLogger())
	ev, err := coord.CreateEvent(ctx, "Jazz Night", "2025-12-01", 5)
	require.NoError(t, err)

	req := reservation.PurchaseRequest{EventID: ev.ID, Quantity: 2, IdempotencyKey: "intent-0123456789abcdef"}
	first, err := coord.Purchase(ctx, req)
	require.NoError(t, err)
	second, err := coord.Purchase(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Booking.ID, second.Booking.ID)

	// Inserting the key directly surfaces the unique violation.
	err = repo.InTx(ctx, func(tx domain.EventTx) error {
		return tx.InsertBooking(ctx, &domain.Booking{EventID: ev.ID, Quantity: 1, IdempotencyKey: req.IdempotencyKey})
	})
	assert.True(t, errors.Is(err, domain.ErrDuplicateIntent))

	found, err := repo.BookingByKey(ctx, req.IdempotencyKey)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, first.Booking.ID, found.ID)

	missing, err := repo.BookingByKey(ctx, "intent-does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, missing)

	got, err := repo.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TicketsAvailable)
}

func TestRepository_Outbox(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	coord := reservation.NewCoordinator(repo, observability.NewNopLogger())
	ev, err := coord.CreateEvent(ctx, "Jazz Night", "2025-12-01", 5)
	require.NoError(t, err)
	_, err = coord.Purchase(ctx, reservation.PurchaseRequest{EventID: ev.ID, Quantity: 1})
	require.NoError(t, err)

	pending, err := repo.PendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, domain.EventTypeEventCreated, pending[0].EventType)
	assert.Equal(t, domain.EventTypeBookingCreated, pending[1].EventType)
	assert.Equal(t, ev.ID, pending[0].AggregateID)

	require.NoError(t, repo.MarkPublished(ctx, pending[0].ID, time.Now()))
	pending, err = repo.PendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.EventTypeBookingCreated, pending[0].EventType)
}

func TestRepository_SerializationFailureRerunsThenGivesUp(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	attempts := 0
	err := repo.WithTx(ctx, func(pgx.Tx) error {
		attempts++
		return &pgconn.PgError{Code: crdb.SerializationFailureCode}
	})
	require.True(t, errors.Is(err, domain.ErrSerializationFailure))
	assert.Equal(t, crdb.MaxTxAttempts, attempts)

	attempts = 0
	err = repo.WithTx(ctx, func(pgx.Tx) error {
		attempts++
		if attempts == 1 {
			return errors.Wrap(&pgconn.PgError{Code: crdb.SerializationFailureCode}, "lock event")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	attempts = 0
	boom := errors.New("boom")
	err = repo.WithTx(ctx, func(pgx.Tx) error {
		attempts++
		return boom
	})
	require.True(t, errors.Is(err, boom))
	assert.Equal(t, 1, attempts)
}
