package assistant

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/robertarktes/tigertix/internal/domain"
)

const (
	IntentBook    = "book"
	IntentUnknown = "unknown"

	SourceFallback = "fallback"
)

type Parsed struct {
	Intent    string  `json:"intent"`
	EventName *string `json:"eventName"`
	EventID   *int64  `json:"eventId"`
	Quantity  int     `json:"quantity"`
	Source    string  `json:"source"`
}

var (
	digitsRe = regexp.MustCompile(`(\d{1,2})\s*(ticket|tickets)?`)
	intentRe = regexp.MustCompile(`\b(book|buy|purchase|reserve)\b`)

	numberWords = []struct {
		re *regexp.Regexp
		n  int
	}{
		{regexp.MustCompile(`\bone\b`), 1},
		{regexp.MustCompile(`\btwo\b`), 2},
		{regexp.MustCompile(`\bthree\b`), 3},
		{regexp.MustCompile(`\bfour\b`), 4},
		{regexp.MustCompile(`\bfive\b`), 5},
		{regexp.MustCompile(`\bsix\b`), 6},
		{regexp.MustCompile(`\bseven\b`), 7},
		{regexp.MustCompile(`\beight\b`), 8},
		{regexp.MustCompile(`\bnine\b`), 9},
		{regexp.MustCompile(`\bten\b`), 10},
	}
)

// Parse extracts a booking intent with keyword heuristics. events should be
// in listing order; the first whose name appears in text wins.
func Parse(text string, events []domain.Event) Parsed {
	lower := strings.ToLower(text)

	qty := 1
	if m := digitsRe.FindStringSubmatch(lower); m != nil {
		qty, _ = strconv.Atoi(m[1])
	} else {
		for _, w := range numberWords {
			if w.re.MatchString(lower) {
				qty = w.n
				break
			}
		}
	}
	if qty < 1 {
		qty = 1
	}

	p := Parsed{Intent: IntentUnknown, Quantity: qty, Source: SourceFallback}
	if intentRe.MatchString(lower) {
		p.Intent = IntentBook
	}
	for _, ev := range events {
		if strings.Contains(lower, strings.ToLower(ev.Name)) {
			name, id := ev.Name, ev.ID
			p.EventName, p.EventID = &name, &id
			break
		}
	}
	return p
}
