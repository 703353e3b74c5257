// Package booking looks up who takes part in a booked call.
package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/1ureka/duocall/internal/config"
)

var (
	// ErrNotConfigured is returned when no service URL is set.
	ErrNotConfigured = errors.New("booking service not configured")
	// ErrNotFound is returned for an unknown booking id.
	ErrNotFound = errors.New("booking not found")
)

// Participant is one person on a booking.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// Booking is the subset of a booking record the call needs.
type Booking struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
}

// Names returns the participants' display names in record order.
func (b Booking) Names() []string {
	names := make([]string, 0, len(b.Participants))
	for _, p := range b.Participants {
		names = append(names, p.Name)
	}
	return names
}

// Client reads {base}/bookings/{id}.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for cfg.URL.
func NewClient(cfg config.ServiceConfig) *Client {
	return &Client{
		base: strings.TrimRight(cfg.URL, "/"),
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Get fetches one booking.
func (c *Client) Get(ctx context.Context, id string) (Booking, error) {
	if c.base == "" {
		return Booking{}, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/bookings/"+url.PathEscape(id), nil)
	if err != nil {
		return Booking{}, fmt.Errorf("build booking request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Booking{}, fmt.Errorf("booking request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Booking{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	default:
		return Booking{}, fmt.Errorf("booking request: unexpected status %s", resp.Status)
	}

	var b Booking
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		return Booking{}, fmt.Errorf("decode booking: %w", err)
	}
	return b, nil
}

// DisplayNames returns the participant names of booking id.
func (c *Client) DisplayNames(ctx context.Context, id string) ([]string, error) {
	b, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return b.Names(), nil
}
