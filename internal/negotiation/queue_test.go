package negotiation

import (
	"errors"
	"fmt"
	"testing"

	"github.com/pion/webrtc/v4"
)

func candidate(i int) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:%d 1 udp 2130706431 127.0.0.1 %d typ host", i, 50000+i)}
}

// TestQueueFlushOrder verifies N queued candidates produce exactly N apply
// attempts in arrival order, and that a failure does not stop the flush.
func TestQueueFlushOrder(t *testing.T) {
	var q CandidateQueue
	for i := range 5 {
		q.Enqueue("peer", candidate(i))
	}
	if q.Len() != 5 {
		t.Fatalf("Len = %d, want 5", q.Len())
	}

	var seen []string
	applied, failed := q.Flush(func(c webrtc.ICECandidateInit) error {
		seen = append(seen, c.Candidate)
		if len(seen) == 3 {
			return errors.New("rejected")
		}
		return nil
	})

	if applied != 4 || failed != 1 {
		t.Errorf("applied=%d failed=%d, want 4/1", applied, failed)
	}
	if len(seen) != 5 {
		t.Fatalf("apply attempts = %d, want 5", len(seen))
	}
	for i, c := range seen {
		if c != candidate(i).Candidate {
			t.Errorf("attempt %d = %q, want %q", i, c, candidate(i).Candidate)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len after flush = %d, want 0", q.Len())
	}
}

// TestQueueFlushIdempotent verifies flushing twice, or flushing an empty
// queue, never re-applies anything.
func TestQueueFlushIdempotent(t *testing.T) {
	var q CandidateQueue
	calls := 0
	apply := func(webrtc.ICECandidateInit) error { calls++; return nil }

	if a, f := q.Flush(apply); a != 0 || f != 0 || calls != 0 {
		t.Fatalf("empty flush: applied=%d failed=%d calls=%d", a, f, calls)
	}

	q.Enqueue("peer", candidate(1))
	q.Flush(apply)
	q.Flush(apply)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

// TestQueueClear verifies Clear drops everything.
func TestQueueClear(t *testing.T) {
	var q CandidateQueue
	q.Enqueue("peer", candidate(1))
	q.Enqueue("peer", candidate(2))
	q.Clear()

	calls := 0
	q.Flush(func(webrtc.ICECandidateInit) error { calls++; return nil })
	if calls != 0 || q.Len() != 0 {
		t.Errorf("calls=%d Len=%d after Clear", calls, q.Len())
	}
}

// TestStateTransitions checks the legal phase and signal edges.
func TestStateTransitions(t *testing.T) {
	testCases := []struct {
		from, to Phase
		ok       bool
	}{
		{PhaseIdle, PhaseNegotiating, true},
		{PhaseIdle, PhaseClosed, true},
		{PhaseIdle, PhaseConnected, false},
		{PhaseNegotiating, PhaseConnected, true},
		{PhaseNegotiating, PhaseClosed, true},
		{PhaseConnected, PhaseClosed, true},
		{PhaseConnected, PhaseNegotiating, false},
		{PhaseClosed, PhaseNegotiating, false},
		{PhaseClosed, PhaseIdle, false},
	}
	for _, tc := range testCases {
		t.Run(tc.from.String()+"->"+tc.to.String(), func(t *testing.T) {
			if got := tc.from.canTransition(tc.to); got != tc.ok {
				t.Errorf("canTransition = %v, want %v", got, tc.ok)
			}
		})
	}

	if SignalMakingOffer.canTransition(SignalSettingRemote) {
		t.Error("making-offer -> setting-remote must be illegal")
	}
	if !SignalSettingRemote.canTransition(SignalStable) {
		t.Error("setting-remote -> stable must be legal")
	}
}
