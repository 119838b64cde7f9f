package reservation

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/tigertix/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const IdempotencyKeyHeader = "Idempotency-Key"

// RemoteClient delegates to the coordinator fronting the store. Every call
// is issued exactly once; a purchase always carries an idempotency key so a
// caller that does decide to resend after a timeout cannot double-book.
type RemoteClient struct {
	baseURL string
	client  *http.Client
}

var _ Booker = (*RemoteClient)(nil)

func NewRemoteClient(baseURL string, timeout time.Duration) *RemoteClient {
	return &RemoteClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type purchaseRequestBody struct {
	EventID  int64 `json:"eventId"`
	Quantity int   `json:"quantity"`
}

type purchaseResponseBody struct {
	Event    domain.Event   `json:"event"`
	Booking  domain.Booking `json:"booking"`
	Replayed bool           `json:"replayed"`
}

type errorBody struct {
	Error     string `json:"error"`
	Available *int   `json:"available"`
	Errors    []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *RemoteClient) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	var out purchaseResponseBody
	err := c.do(ctx, http.MethodPost, "/api/client/purchase", purchaseRequestBody{
		EventID:  req.EventID,
		Quantity: req.Quantity,
	}, req.IdempotencyKey, &out)
	if err != nil {
		var insufficient *domain.InsufficientInventoryError
		if errors.As(err, &insufficient) {
			insufficient.EventID = req.EventID
			insufficient.Requested = req.Quantity
		}
		return nil, err
	}
	return &PurchaseResult{Event: out.Event, Booking: out.Booking, Replayed: out.Replayed}, nil
}

func (c *RemoteClient) GetEvent(ctx context.Context, id int64) (domain.Event, error) {
	var ev domain.Event
	if err := c.do(ctx, http.MethodGet, "/api/client/events/"+strconv.FormatInt(id, 10), nil, "", &ev); err != nil {
		return domain.Event{}, err
	}
	return ev, nil
}

func (c *RemoteClient) ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.Event, error) {
	path := "/api/client/events"
	if filter.OnlyAvailable {
		path += "?" + url.Values{"available": {"true"}}.Encode()
	}
	events := []domain.Event{}
	if err := c.do(ctx, http.MethodGet, path, nil, "", &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *RemoteClient) do(ctx context.Context, method, path string, body interface{}, idempotencyKey string, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set(IdempotencyKeyHeader, idempotencyKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
	}
	return remoteError(resp)
}

// remoteError turns the client service's status mapping back into the
// failure kinds it was produced from.
func remoteError(resp *http.Response) error {
	var eb errorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&eb)

	switch resp.StatusCode {
	case http.StatusNotFound:
		return domain.ErrEventNotFound
	case http.StatusConflict:
		if eb.Available != nil {
			return &domain.InsufficientInventoryError{Available: *eb.Available}
		}
		return domain.ErrSerializationFailure
	case http.StatusBadRequest:
		msg := eb.Error
		if msg == "" && len(eb.Errors) > 0 {
			msg = eb.Errors[0].Message
		}
		if msg == "" {
			msg = "rejected by client service"
		}
		return domain.InvalidInput("%s", msg)
	default:
		return errors.Newf("client service returned %d: %s", resp.StatusCode, eb.Error)
	}
}
