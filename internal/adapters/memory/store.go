package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/tigertix/internal/domain"
)

// Store keeps the inventory in process. A unit of work holds the store mutex
// for its whole duration and is rolled back from a snapshot on error or panic, which
// serializes purchases the same way an exclusive row lock would.
type Store struct {
	mu          sync.Mutex
	nextEventID int64
	nextBooking int64
	events      map[int64]domain.Event
	bookings    []domain.Booking
	outbox      []domain.OutboxMessage
	now         func() time.Time
}

var (
	_ domain.EventStore   = (*Store)(nil)
	_ domain.OutboxSource = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		events: make(map[int64]domain.Event),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type snapshot struct {
	nextEventID int64
	nextBooking int64
	events      map[int64]domain.Event
	bookings    int
	outbox      int
}

func (s *Store) snapshot() snapshot {
	events := make(map[int64]domain.Event, len(s.events))
	for id, e := range s.events {
		events[id] = e
	}
	return snapshot{
		nextEventID: s.nextEventID,
		nextBooking: s.nextBooking,
		events:      events,
		bookings:    len(s.bookings),
		outbox:      len(s.outbox),
	}
}

// restore relies on bookings and outbox being append-only inside a unit.
func (s *Store) restore(snap snapshot) {
	s.nextEventID = snap.nextEventID
	s.nextBooking = snap.nextBooking
	s.events = snap.events
	s.bookings = s.bookings[:snap.bookings]
	s.outbox = s.outbox[:snap.outbox]
}

func (s *Store) InTx(ctx context.Context, fn func(tx domain.EventTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
	}()
	err := fn(&tx{s: s})
	if err != nil {
		s.restore(snap)
		return err
	}
	if err := ctx.Err(); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *Store) CreateEvent(ctx context.Context, ev domain.NewEvent) (domain.Event, error) {
	var created domain.Event
	err := s.InTx(ctx, func(domain.EventTx) error {
		for _, e := range s.events {
			if e.Name == ev.Name && e.Date == ev.Date {
				return domain.ErrDuplicateEvent
			}
		}
		s.nextEventID++
		created = ev.Event(s.nextEventID)
		s.events[created.ID] = created

		msg, err := domain.EventCreatedMessage(created)
		if err != nil {
			return err
		}
		s.outbox = append(s.outbox, msg)
		return nil
	})
	return created, err
}

func (s *Store) GetEvent(ctx context.Context, id int64) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return domain.Event{}, domain.ErrEventNotFound
	}
	return e, nil
}

func (s *Store) ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := []domain.Event{}
	for _, e := range s.events {
		if filter.Matches(e) {
			events = append(events, e)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].Date != events[j].Date {
			return events[i].Date < events[j].Date
		}
		return events[i].ID < events[j].ID
	})
	return events, nil
}

func (s *Store) ListBookings(ctx context.Context, eventID int64) ([]domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bookings := []domain.Booking{}
	for _, b := range s.bookings {
		if b.EventID == eventID {
			bookings = append(bookings, b)
		}
	}
	return bookings, nil
}

func (s *Store) BookingByKey(ctx context.Context, key string) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookingByKey(key), nil
}

func (s *Store) bookingByKey(key string) *domain.Booking {
	if key == "" {
		return nil
	}
	for _, b := range s.bookings {
		if b.IdempotencyKey == key {
			found := b
			return &found
		}
	}
	return nil
}

func (s *Store) PendingOutbox(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []domain.OutboxMessage
	for _, msg := range s.outbox {
		if msg.Status != domain.OutboxStatusNew {
			continue
		}
		pending = append(pending, msg)
		if len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (s *Store) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.outbox {
		if s.outbox[i].ID == id && s.outbox[i].Status == domain.OutboxStatusNew {
			published := at
			s.outbox[i].Status = domain.OutboxStatusPublished
			s.outbox[i].PublishedAt = &published
		}
	}
	return nil
}

// tx operates on the store directly; the caller already holds s.mu.
type tx struct {
	s *Store
}

func (t *tx) LockEvent(ctx context.Context, id int64) (domain.Event, error) {
	e, ok := t.s.events[id]
	if !ok {
		return domain.Event{}, domain.ErrEventNotFound
	}
	return e, nil
}

func (t *tx) DecrementAvailability(ctx context.Context, id int64, quantity int) (bool, error) {
	e, ok := t.s.events[id]
	if !ok || e.TicketsAvailable < quantity {
		return false, nil
	}
	e.TicketsAvailable -= quantity
	t.s.events[id] = e
	return true, nil
}

func (t *tx) InsertBooking(ctx context.Context, b *domain.Booking) error {
	if _, ok := t.s.events[b.EventID]; !ok {
		return domain.ErrEventNotFound
	}
	if t.s.bookingByKey(b.IdempotencyKey) != nil {
		return domain.ErrDuplicateIntent
	}
	t.s.nextBooking++
	b.ID = t.s.nextBooking
	b.CreatedAt = t.s.now()
	t.s.bookings = append(t.s.bookings, *b)
	return nil
}

func (t *tx) BookingByKey(ctx context.Context, key string) (*domain.Booking, error) {
	return t.s.bookingByKey(key), nil
}

func (t *tx) EnqueueOutbox(ctx context.Context, msg domain.OutboxMessage) error {
	t.s.outbox = append(t.s.outbox, msg)
	return nil
}
