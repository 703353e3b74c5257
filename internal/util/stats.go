package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Call counters
// ──────────────────────────────────────────────────────────────────────────────

// Stats counts negotiation and messaging events for one client. A single
// instance is shared by the negotiator, chat and control layers of a call.
type Stats struct {
	OffersSent        atomic.Int64 // offers transmitted (initial + renegotiation)
	AnswersSent       atomic.Int64 // answers transmitted
	OffersIgnored     atomic.Int64 // colliding offers dropped by the impolite side
	Rollbacks         atomic.Int64 // local offers rolled back by the polite side
	CandidatesQueued  atomic.Int64 // remote candidates buffered before a remote description
	CandidatesApplied atomic.Int64 // remote candidates handed to the connection
	CandidateFailures atomic.Int64 // remote candidates the connection rejected
	ChatSent          atomic.Int64 // chat messages written to the data channel
	ChatRecv          atomic.Int64 // chat messages accepted from the data channel
	ChatDropped       atomic.Int64 // inbound payloads dropped as malformed or unknown
	ControlSent       atomic.Int64 // control envelopes sent over signaling
	ControlRecv       atomic.Int64 // control envelopes received over signaling
}

// NewStats returns zeroed counters.
func NewStats() *Stats {
	return &Stats{}
}

// Snapshot is a plain copy of Stats for reporting and assertions.
type Snapshot struct {
	OffersSent, AnswersSent, OffersIgnored, Rollbacks         int64
	CandidatesQueued, CandidatesApplied, CandidateFailures    int64
	ChatSent, ChatRecv, ChatDropped, ControlSent, ControlRecv int64
}

// Snapshot loads every counter.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		OffersSent:        s.OffersSent.Load(),
		AnswersSent:       s.AnswersSent.Load(),
		OffersIgnored:     s.OffersIgnored.Load(),
		Rollbacks:         s.Rollbacks.Load(),
		CandidatesQueued:  s.CandidatesQueued.Load(),
		CandidatesApplied: s.CandidatesApplied.Load(),
		CandidateFailures: s.CandidateFailures.Load(),
		ChatSent:          s.ChatSent.Load(),
		ChatRecv:          s.ChatRecv.Load(),
		ChatDropped:       s.ChatDropped.Load(),
		ControlSent:       s.ControlSent.Load(),
		ControlRecv:       s.ControlRecv.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs call statistics every
// interval, but only when something changed since the previous report.
// It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, s *Stats, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev Snapshot
		for {
			select {
			case <-ticker.C:
				cur := s.Snapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(cur))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatStats returns a one-line summary of the counters for the logger.
func formatStats(s Snapshot) string {
	return fmt.Sprintf("SDP: %d↑offer %d↑answer %d ignored | ICE: %d queued %d applied %d failed | Chat: %2d↑ %2d↓ | Ctrl: %2d↑ %2d↓",
		s.OffersSent,
		s.AnswersSent,
		s.OffersIgnored,
		s.CandidatesQueued,
		s.CandidatesApplied,
		s.CandidateFailures,
		s.ChatSent,
		s.ChatRecv,
		s.ControlSent,
		s.ControlRecv,
	)
}
