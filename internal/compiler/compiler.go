// Package compiler is the client of the code execution service used by the
// shared compiler panel.
package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/1ureka/duocall/internal/config"
)

// ErrNotConfigured is returned when no service URL is set.
var ErrNotConfigured = errors.New("compiler service not configured")

// Request is one program run.
type Request struct {
	LanguageID int    `json:"languageId"`
	Source     string `json:"source"`
	Stdin      string `json:"stdin,omitempty"`
}

// Result is what the service reports for a run. Error holds compile or
// runtime failures of the program itself; transport failures are returned
// as Go errors instead.
type Result struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// Text returns the output to display, preferring the program error.
func (r Result) Text() string {
	if r.Error != "" {
		return r.Error
	}
	return r.Output
}

// Client posts runs to {base}/run.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for cfg.URL. A zero timeout means no timeout.
func NewClient(cfg config.ServiceConfig) *Client {
	return &Client{
		base: strings.TrimRight(cfg.URL, "/"),
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Run executes req and waits for the result.
func (c *Client) Run(ctx context.Context, req Request) (Result, error) {
	if c.base == "" {
		return Result{}, ErrNotConfigured
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("encode run request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/run", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build run request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("run request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("run request: unexpected status %s", resp.Status)
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{}, fmt.Errorf("decode run result: %w", err)
	}
	return res, nil
}
