package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DateLayout = "2006-01-02"

	MinEventNameLen = 3
	MaxEventNameLen = 100
)

type NewEvent struct {
	Name         string
	Date         string
	TotalTickets int
}

// NormalizeEvent trims and validates admin input. Dates may be given as a
// calendar date or an RFC 3339 timestamp; only the date part is kept.
func NormalizeEvent(name, date string, totalTickets int) (NewEvent, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n < MinEventNameLen || n > MaxEventNameLen {
		return NewEvent{}, InvalidInput("name must be %d-%d chars", MinEventNameLen, MaxEventNameLen)
	}
	day, err := ParseDate(date)
	if err != nil {
		return NewEvent{}, err
	}
	if totalTickets < 0 {
		return NewEvent{}, InvalidInput("totalTickets must be an integer >= 0")
	}
	return NewEvent{Name: name, Date: day, TotalTickets: totalTickets}, nil
}

func ParseDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t.Format(DateLayout), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Format(DateLayout), nil
	}
	return "", InvalidInput("date must be a valid ISO 8601 date (YYYY-MM-DD)")
}

// Event materializes the row a store inserts for n.
func (n NewEvent) Event(id int64) Event {
	return Event{
		ID:               id,
		Name:             n.Name,
		Date:             n.Date,
		TotalTickets:     n.TotalTickets,
		TicketsAvailable: n.TotalTickets,
	}
}
