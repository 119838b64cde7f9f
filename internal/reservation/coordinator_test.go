package reservation_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/robertarktes/tigertix/internal/adapters/memory"
	"github.com/robertarktes/tigertix/internal/domain"
	"github.com/robertarktes/tigertix/internal/observability"
	"github.com/robertarktes/tigertix/internal/reservation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newCoordinator(t *testing.T) (*reservation.Coordinator, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return reservation.NewCoordinator(store, observability.NewNopLogger()), store
}

func assertConserved(t *testing.T, store domain.EventStore, eventID int64) {
	t.Helper()
	ctx := context.Background()
	ev, err := store.GetEvent(ctx, eventID)
	require.NoError(t, err)
	bookings, err := store.ListBookings(ctx, eventID)
	require.NoError(t, err)

	sold := 0
	for _, b := range bookings {
		sold += b.Quantity
	}
	assert.GreaterOrEqual(t, ev.TicketsAvailable, 0)
	assert.LessOrEqual(t, ev.TicketsAvailable, ev.TotalTickets)
	assert.Equal(t, ev.TotalTickets-ev.TicketsAvailable, sold)
}

func TestCoordinator_JazzNightScenario(t *testing.T) {
	ctx := context.Background()
	coord, store := newCoordinator(t)

	ev, err := coord.CreateEvent(ctx, "Jazz Night", "2025-12-01", 10)
	require.NoError(t, err)
	assert.Equal(t, 10, ev.TicketsAvailable)

	res, err := coord.Purchase(ctx, reservation.PurchaseRequest{EventID: ev.ID, Quantity: 4})
	require.NoError(t, err)
	assert.Equal(t, 6, res.Event.TicketsAvailable)
	assert.Equal(t, 4, res.Booking.Quantity)
	assert.False(t, res.Replayed)

	bookings, err := coord.ListBookings(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, 4, bookings[0].Quantity)

	_, err = coord.Purchase(ctx, reservation.PurchaseRequest{EventID: ev.ID, Quantity: 10})
	require.ErrorIs(t, err, domain.ErrInsufficientInventory)
	var insufficient *domain.InsufficientInventoryError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 6, insufficient.Available)

	_, err = coord.Purchase(ctx, reservation.PurchaseRequest{EventID: 9999, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrEventNotFound)

	assertConserved(t, store, ev.ID)
}

func TestCoordinator_DuplicateEvent(t *testing.T) {
	ctx := context.Background()
	coord, store := newCoordinator(t)

	first, err := coord.CreateEvent(ctx, "Jazz Night", "2025-12-01", 10)
	require.NoError(t, err)
	_, err = coord.Purchase(ctx, reservation.PurchaseRequest{EventID: first.ID, Quantity: 3})
	require.NoError(t, err)

	_, err = coord.CreateEvent(ctx, "  Jazz Night ", "2025-12-01T20:00:00Z", 50)
	assert.ErrorIs(t, err, domain.ErrDuplicateEvent)

	got, err := store.GetEvent(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.TicketsAvailable)
	assert.Equal(t, 10, got.TotalTickets)
}

func TestCoordinator_CreateEventValidation(t *testing.T) {
	coord, _ := newCoordinator(t)
	cases := []struct {
		name, date string
		total      int
	}{
		{"ab", "2025-12-01", 10},
		{string(make([]byte, 101)), "2025-12-01", 10},
		{"Jazz Night", "12/01/2025", 10},
		{"Jazz Night", "2025-12-01", -1},
	}
	for _, tc := range cases {
		_, err := coord.CreateEvent(context.Background(), tc.name, tc.date, tc.total)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "%q %q %d", tc.name, tc.date, tc.total)
	}

	ev, err := coord.CreateEvent(context.Background(), "Free Lecture", "2025-11-03", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, ev.TicketsAvailable)
}

func TestCoordinator_PurchaseRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	coord, _ := newCoordinator(t)
	ev, err := coord.CreateEvent(ctx, "Jazz Night", "2025-12-01", 10)
	require.NoError(t, err)

	_, err = coord.Purchase(ctx, reservation.PurchaseRequest{EventID: ev.ID, Quantity: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = coord.Purchase(ctx, reservation.PurchaseRequest{EventID: 0, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

var errBookingInsert = errors.New("disk full")

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
	return errBookingInsert
}

func TestCoordinator_RollsBackDecrementWhenBookingFails(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	ev, err := store.CreateEvent(ctx, domain.NewEvent{Name: "Jazz Night", Date: "2025-12-01", TotalTickets: 10})
	require.NoError(t, err)

	coord := reservation.NewCoordinator(failingBookingStore{store}, observability.NewNopLogger())
	_, err = coord.Purchase(ctx, reservation.PurchaseRequest{EventID: ev.ID, Quantity: 4})
	require.ErrorIs(t, err, errBookingInsert)

	got, err := store.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.TicketsAvailable)
	bookings, err := store.ListBookings(ctx, ev.ID)
	require.NoError(t, err)
	assert.Empty(t, bookings)

	pending, err := store.PendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.EventTypeEventCreated, pending[0].EventType)
}

type panickingBookingStore struct {
	domain.EventStore
}

func (s panickingBookingStore) InTx(ctx context.Context, fn func(tx domain.EventTx) error) error {
	return s.EventStore.InTx(ctx, func(tx domain.EventTx) error {
		return fn(panickingBookingTx{tx})
	})
}

type panickingBookingTx struct {
	domain.EventTx
}

func (panickingBookingTx) InsertBooking(context.Context, *domain.Booking) error {
	panic("booking insert crashed")
}

func TestCoordinator_RollsBackDecrementWhenBookingPanics(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	ev, err := store.CreateEvent(ctx, domain.NewEvent{Name: "Jazz Night", Date: "2025-12-01", TotalTickets: 10})
	require.NoError(t, err)

	coord := reservation.NewCoordinator(panickingBookingStore{store}, observability.NewNopLogger())
	require.PanicsWithValue(t, "booking insert crashed", func() {
		_, _ = coord.Purchase(ctx, reservation.PurchaseRequest{EventID: ev.ID, Quantity: 4})
	})

	got, err := store.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.TicketsAvailable)
	bookings, err := store.ListBookings(ctx, ev.ID)
	require.NoError(t, err)
	assert.Empty(t, bookings)
	assertConserved(t, store, ev.ID)

	res, err := reservation.NewCoordinator(store, observability.NewNopLogger()).
		Purchase(ctx, reservation.PurchaseRequest{EventID: ev.ID, Quantity: 4})
	require.NoError(t, err)
	assert.Equal(t, 6, res.Event.TicketsAvailable)
}

func TestCoordinator_NoOversellUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	coord, store := newCoordinator(t)
	ev, err := coord.CreateEvent(ctx, "Jazz Night", "2025-12-01", 5)
	require.NoError(t, err)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = coord.Purchase(ctx, reservation.PurchaseRequest{EventID: ev.ID, Quantity: 3})
		}(i)
	}
	wg.Wait()

	succeeded, insufficient := 0, 0
	for _, err := range errs {
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

	got, err := store.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TicketsAvailable)
	assertConserved(t, store, ev.ID)
}

func TestCoordinator_ManyBuyersSellExactlyCapacity(t *testing.T) {
	ctx := context.Background()
	coord, store := newCoordinator(t)
	ev, err := coord.CreateEvent(ctx, "Homecoming", "2025-10-25", 20)
	require.NoError(t, err)

	var mu sync.Mutex
	sold := 0
	var g errgroup.Group
	for i := 0; i < 60; i++ {
		g.Go(func() error {
			_, err := coord.Purchase(ctx, reservation.PurchaseRequest{EventID: ev.ID, Quantity: 1})
			if errors.Is(err, domain.ErrInsufficientInventory) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			sold++
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 20, sold)
	got, err := store.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.TicketsAvailable)
	assertConserved(t, store, ev.ID)
}

func TestCoordinator_IdempotentReplay(t *testing.T) {
	ctx := context.Background()
	coord, store := newCoordinator(t)
	ev, err := coord.CreateEvent(ctx, "Jazz Night", "2025-12-01", 10)
	require.NoError(t, err)

	req := reservation.PurchaseRequest{EventID: ev.ID, Quantity: 2, IdempotencyKey: "intent-0000000000000001"}
	first, err := coord.Purchase(ctx, req)
	require.NoError(t, err)
	second, err := coord.Purchase(ctx, req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Booking.ID, second.Booking.ID)
	assert.Equal(t, 8, second.Event.TicketsAvailable)

	bookings, err := store.ListBookings(ctx, ev.ID)
	require.NoError(t, err)
	assert.Len(t, bookings, 1)

	_, err = coord.Purchase(ctx, reservation.PurchaseRequest{EventID: ev.ID, Quantity: 3, IdempotencyKey: req.IdempotencyKey})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assertConserved(t, store, ev.ID)
}

func TestCoordinator_ConcurrentDuplicateIntentDecrementsOnce(t *testing.T) {
	ctx := context.Background()
	coord, store := newCoordinator(t)
	ev, err := coord.CreateEvent(ctx, "Jazz Night", "2025-12-01", 10)
	require.NoError(t, err)

	req := reservation.PurchaseRequest{EventID: ev.ID, Quantity: 1, IdempotencyKey: "intent-0000000000000002"}
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := coord.Purchase(ctx, req)
			return err
		})
	}
	require.NoError(t, g.Wait())

	got, err := store.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, got.TicketsAvailable)
	assertConserved(t, store, ev.ID)
}

func TestCoordinator_ListEvents(t *testing.T) {
	ctx := context.Background()
	coord, _ := newCoordinator(t)

	late, err := coord.CreateEvent(ctx, "Spring Fling", "2026-04-10", 2)
	require.NoError(t, err)
	early, err := coord.CreateEvent(ctx, "Jazz Night", "2025-12-01", 10)
	require.NoError(t, err)
	sameDay, err := coord.CreateEvent(ctx, "Poetry Slam", "2025-12-01", 1)
	require.NoError(t, err)

	_, err = coord.Purchase(ctx, reservation.PurchaseRequest{EventID: sameDay.ID, Quantity: 1})
	require.NoError(t, err)

	all, err := coord.ListEvents(ctx, domain.EventFilter{})
	require.NoError(t, err)
	again, err := coord.ListEvents(ctx, domain.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, all, again)

	ids := []int64{}
	for _, e := range all {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []int64{early.ID, sameDay.ID, late.ID}, ids)

	available, err := coord.ListEvents(ctx, domain.EventFilter{OnlyAvailable: true})
	require.NoError(t, err)
	require.Len(t, available, 2)
	assert.Equal(t, early.ID, available[0].ID)
	assert.Equal(t, late.ID, available[1].ID)
}

func TestCoordinator_PurchaseEnqueuesOutbox(t *testing.T) {
	ctx := context.Background()
	coord, store := newCoordinator(t)
	ev, err := coord.CreateEvent(ctx, "Jazz Night", "2025-12-01", 10)
	require.NoError(t, err)
	_, err = coord.Purchase(ctx, reservation.PurchaseRequest{EventID: ev.ID, Quantity: 2})
	require.NoError(t, err)

	pending, err := store.PendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, domain.EventTypeEventCreated, pending[0].EventType)
	assert.Equal(t, domain.EventTypeBookingCreated, pending[1].EventType)
}

func TestCoordinator_ListBookingsUnknownEvent(t *testing.T) {
	coord, _ := newCoordinator(t)
	_, err := coord.ListBookings(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}
