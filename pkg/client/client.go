package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/model"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/scheduling"
)

// UniqueSetMarker is the fragment the API includes in its message when a
// slot was booked by someone else first.
const UniqueSetMarker = "must make a unique set"

const maxResponseBytes = 1 << 20

// MaxDays matches the widest occupancy window the API serves.
const MaxDays = 60

type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries uint64
	// MockFallback serves MockAvailability when the schedule cannot be
	// fetched. Development only. Appointment fetch errors still fail.
	MockFallback bool
	Location     *time.Location
	Days         int
	HTTPClient   *http.Client
	Logger       zerolog.Logger
}

type Client struct {
	baseURL      string
	token        string
	http         *http.Client
	cb           *gobreaker.CircuitBreaker
	group        singleflight.Group
	maxRetries   uint64
	mockFallback bool
	loc          *time.Location
	days         int
	logger       zerolog.Logger
	now          func() time.Time
}

// APIError is a non-success response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: HTTP %d: %s", e.StatusCode, e.Message)
}

// ConflictError reports a slot lost to a concurrent booking. Slots holds the
// availability regenerated after the conflict.
type ConflictError struct {
	Message string
	Slots   []model.DaySlots
}

func (e *ConflictError) Error() string {
	return "slot no longer available: " + e.Message
}

func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	days := cfg.Days
	if days <= 0 {
		days = scheduling.DefaultLookaheadDays
	}
	if days > MaxDays {
		days = MaxDays
	}

	c := &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		token:        cfg.Token,
		http:         httpClient,
		maxRetries:   maxRetries,
		mockFallback: cfg.MockFallback,
		loc:          loc,
		days:         days,
		logger:       cfg.Logger,
		now:          time.Now,
	}
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "booking-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// client errors are answers, not outages
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			return err == nil || (errors.As(err, &apiErr) && apiErr.StatusCode < 500)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
	return c
}

func (c *Client) FetchSchedule(ctx context.Context, psychologistID uuid.UUID) (model.WeeklyAvailability, error) {
	var schedule model.Schedule
	path := "/api/v1/psychologists/" + psychologistID.String() + "/schedule"
	if err := c.get(ctx, path, nil, &schedule); err != nil {
		return nil, err
	}
	if schedule.Availability == nil {
		return model.WeeklyAvailability{}, nil
	}
	return schedule.Availability, nil
}

// FetchAppointments lists the bookings that block slots. Empty bounds use
// the server defaults.
func (c *Client) FetchAppointments(ctx context.Context, psychologistID uuid.UUID, from, to string) ([]model.ExistingAppointment, error) {
	q := url.Values{}
	if from != "" {
		q.Set("from", from)
	}
	if to != "" {
		q.Set("to", to)
	}
	var out []model.ExistingAppointment
	path := "/api/v1/psychologists/" + psychologistID.String() + "/appointments"
	if err := c.get(ctx, path, q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateAppointment submits once. Bookings are never retried.
func (c *Client) CreateAppointment(ctx context.Context, req *model.CreateAppointmentRequest) (*model.Appointment, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var out model.Appointment
	_, err = c.cb.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, http.MethodPost, "/api/v1/appointments", nil, body, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AvailableSlots fetches schedule and appointments fresh and generates the
// slots locally. Concurrent calls for one psychologist share a fetch.
func (c *Client) AvailableSlots(ctx context.Context, psychologistID uuid.UUID) ([]model.DaySlots, error) {
	ch := c.group.DoChan(psychologistID.String(), func() (interface{}, error) {
		return c.availableSlots(context.WithoutCancel(ctx), psychologistID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]model.DaySlots), nil
	}
}

func (c *Client) availableSlots(ctx context.Context, psychologistID uuid.UUID) ([]model.DaySlots, error) {
	availability, err := c.FetchSchedule(ctx, psychologistID)
	if err != nil {
		if !c.mockFallback {
			return nil, fmt.Errorf("failed to fetch schedule: %w", err)
		}
		c.logger.Warn().Err(err).Msg("Using mock availability")
		availability = MockAvailability()
	}

	// bounds cover every generated day
	now := c.now().In(c.loc)
	from := now.Format(model.DateLayout)
	to := scheduling.LookaheadEnd(now, c.days).Format(model.DateLayout)
	appointments, err := c.FetchAppointments(ctx, psychologistID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch appointments: %w", err)
	}

	return scheduling.Generate(availability, appointments, now, scheduling.Options{Days: c.days}), nil
}

// Book submits slot for the psychologist. A lost race returns a
// *ConflictError with refreshed slots.
func (c *Client) Book(ctx context.Context, psychologistID uuid.UUID, slot model.BookableSlot, notes string) (*model.Appointment, error) {
	appointment, err := c.CreateAppointment(ctx, &model.CreateAppointmentRequest{
		PsychologistID: psychologistID,
		Date:           slot.Date,
		StartTime:      slot.StartTime,
		EndTime:        slot.EndTime,
		Notes:          notes,
	})
	if err == nil {
		return appointment, nil
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || !IsConflict(apiErr) {
		return nil, err
	}

	c.group.Forget(psychologistID.String())
	slots, refreshErr := c.AvailableSlots(ctx, psychologistID)
	if refreshErr != nil {
		return nil, errors.Join(&ConflictError{Message: apiErr.Message}, refreshErr)
	}
	return nil, &ConflictError{Message: apiErr.Message, Slots: slots}
}

// IsConflict reports whether err is a double-booking rejection.
func IsConflict(err *APIError) bool {
	return err.StatusCode == http.StatusConflict || strings.Contains(err.Message, UniqueSetMarker)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	op := func() error {
		_, err := c.cb.Execute(func() (interface{}, error) {
			return nil, c.do(ctx, http.MethodGet, path, query, nil, out)
		})
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 10 * time.Second
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx))
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode >= 300 {
		msg := env.Message
		if decodeErr != nil {
			msg = strings.TrimSpace(string(raw))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return fmt.Errorf("invalid response body: %w", decodeErr)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
