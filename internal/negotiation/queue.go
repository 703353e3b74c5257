package negotiation

import (
	"github.com/pion/webrtc/v4"
)

// pendingCandidate is a remote candidate received before it could be applied.
type pendingCandidate struct {
	candidate webrtc.ICECandidateInit
	from      string
}

// CandidateQueue buffers remote ICE candidates that arrive before a remote
// description is applied. It is owned by one Session and only touched under
// the Negotiator's lock, so it carries no lock of its own.
type CandidateQueue struct {
	items []pendingCandidate
}

// Enqueue appends a candidate. It always succeeds; the queue is unbounded.
func (q *CandidateQueue) Enqueue(from string, c webrtc.ICECandidateInit) {
	q.items = append(q.items, pendingCandidate{candidate: c, from: from})
}

// Flush hands every queued candidate to apply in arrival order and empties
// the queue. A failing candidate is counted and skipped; it never stops the
// rest of the flush. Flushing an empty queue does nothing.
func (q *CandidateQueue) Flush(apply func(webrtc.ICECandidateInit) error) (applied, failed int) {
	items := q.items
	q.items = nil

	for _, item := range items {
		if err := apply(item.candidate); err != nil {
			failed++
			continue
		}
		applied++
	}
	return applied, failed
}

// Len returns the number of queued candidates.
func (q *CandidateQueue) Len() int {
	return len(q.items)
}

// Clear drops every queued candidate.
func (q *CandidateQueue) Clear() {
	q.items = nil
}
