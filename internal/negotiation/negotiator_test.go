package negotiation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

// TestInitiateSendsOneOffer verifies the impolite side sends exactly one
// offer and that a second Initiate is a no-op.
func TestInitiateSendsOneOffer(t *testing.T) {
	a := newPeer(t, "A")
	ctx := context.Background()

	if err := a.neg.Initiate(ctx, "B"); err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	if err := a.neg.Initiate(ctx, "B"); err != nil {
		t.Fatalf("second Initiate failed: %v", err)
	}

	if got := a.sig.count("offer"); got != 1 {
		t.Errorf("offers sent = %d, want 1", got)
	}
	if len(a.conns) != 1 {
		t.Errorf("connections created = %d, want 1", len(a.conns))
	}

	st := a.neg.State()
	if !st.Active || st.Role != RoleImpolite || st.Phase != PhaseNegotiating {
		t.Errorf("state = %+v", st)
	}
	if !st.HasDataChannel {
		t.Error("impolite side has no data channel")
	}
	if !st.HasLocalMedia {
		t.Error("local media not attached")
	}
	if st.Signal != SignalStable || st.SignalingState != webrtc.SignalingStateHaveLocalOffer {
		t.Errorf("signal=%s signaling=%s", st.Signal, st.SignalingState)
	}
}

// TestIncomingPeerSendsNothing verifies the polite side waits for an offer.
func TestIncomingPeerSendsNothing(t *testing.T) {
	b := newPeer(t, "B")
	if err := b.neg.HandleIncomingPeer(context.Background(), "A"); err != nil {
		t.Fatalf("HandleIncomingPeer failed: %v", err)
	}
	if msgs := b.sig.take(); len(msgs) != 0 {
		t.Errorf("polite side sent %d messages", len(msgs))
	}
	st := b.neg.State()
	if st.Role != RolePolite || st.Phase != PhaseIdle || st.HasDataChannel {
		t.Errorf("state = %+v", st)
	}
}

// TestOfferAnswer runs one clean negotiation: one offer, one answer, both
// sides stable and then connected.
func TestOfferAnswer(t *testing.T) {
	a, b := newPeer(t, "A"), newPeer(t, "B")
	ctx := context.Background()

	if err := b.neg.HandleIncomingPeer(ctx, "A"); err != nil {
		t.Fatal(err)
	}
	if err := a.neg.Initiate(ctx, "B"); err != nil {
		t.Fatal(err)
	}

	deliver(t, a, b)
	if got := b.sig.count("answer"); got != 1 {
		t.Fatalf("answers = %d, want 1", got)
	}
	deliver(t, b, a)

	for _, p := range []*peer{a, b} {
		if st := p.neg.State(); st.SignalingState != webrtc.SignalingStateStable {
			t.Errorf("%s signaling = %s, want stable", p.name, st.SignalingState)
		}
	}

	a.conn().fire(webrtc.PeerConnectionStateConnected)
	b.conn().fire(webrtc.PeerConnectionStateConnected)

	if a.neg.State().Phase != PhaseConnected || b.neg.State().Phase != PhaseConnected {
		t.Errorf("phases = %s / %s, want connected", a.neg.State().Phase, b.neg.State().Phase)
	}

	as, bs := a.neg.Stats().Snapshot(), b.neg.Stats().Snapshot()
	if as.OffersSent != 1 || as.AnswersSent != 0 || bs.OffersSent != 0 || bs.AnswersSent != 1 {
		t.Errorf("stats A=%+v B=%+v", as, bs)
	}
}

// TestOfferCreatesPoliteSession verifies an offer with no session makes the
// receiver the polite side first.
func TestOfferCreatesPoliteSession(t *testing.T) {
	a, b := newPeer(t, "A"), newPeer(t, "B")
	if err := a.neg.Initiate(context.Background(), "B"); err != nil {
		t.Fatal(err)
	}
	deliver(t, a, b)

	st := b.neg.State()
	if !st.Active || st.Role != RolePolite || st.PeerID != "A" {
		t.Errorf("state = %+v", st)
	}
	if b.sig.count("answer") != 1 {
		t.Error("no answer sent")
	}
}

// TestGlare makes both sides hold an unanswered offer at once. The
// impolite offer must win, the polite one is rolled back, and one answer
// settles both sides.
func TestGlare(t *testing.T) {
	a, b := newPeer(t, "A"), newPeer(t, "B")
	ctx := context.Background()

	if err := b.neg.HandleIncomingPeer(ctx, "A"); err != nil {
		t.Fatal(err)
	}
	if err := a.neg.Initiate(ctx, "B"); err != nil {
		t.Fatal(err)
	}
	if err := b.neg.Renegotiate(); err != nil {
		t.Fatal(err)
	}

	offerA, offerB := a.sig.take(), b.sig.take()
	if len(offerA) != 1 || len(offerB) != 1 {
		t.Fatalf("offers in flight: A=%d B=%d", len(offerA), len(offerB))
	}

	// B's offer reaches impolite A first and is ignored.
	if err := a.neg.HandleOffer(ctx, "B", offerB[0].sdp); err != nil {
		t.Fatalf("A HandleOffer: %v", err)
	}
	if a.neg.Stats().OffersIgnored.Load() != 1 {
		t.Error("impolite side did not ignore the colliding offer")
	}
	if a.sig.count("answer") != 0 {
		t.Error("impolite side answered a colliding offer")
	}

	// A's offer reaches polite B, which rolls back and answers.
	if err := b.neg.HandleOffer(ctx, "A", offerA[0].sdp); err != nil {
		t.Fatalf("B HandleOffer: %v", err)
	}
	if b.neg.Stats().Rollbacks.Load() != 1 {
		t.Error("polite side did not roll back")
	}
	if b.conn().RemoteDescription().SDP != offerA[0].sdp.SDP {
		t.Errorf("polite side applied %q, want the impolite offer", b.conn().RemoteDescription().SDP)
	}

	deliver(t, b, a)

	for _, p := range []*peer{a, b} {
		st := p.neg.State()
		if st.SignalingState != webrtc.SignalingStateStable || st.Signal != SignalStable {
			t.Errorf("%s not converged: %+v", p.name, st)
		}
	}
	if got := a.neg.Stats().AnswersSent.Load() + b.neg.Stats().AnswersSent.Load(); got != 1 {
		t.Errorf("answers = %d, want 1", got)
	}
}

// TestCandidatesQueuedUntilRemoteDescription verifies early candidates are
// applied in arrival order, with no loss, once the offer is applied.
func TestCandidatesQueuedUntilRemoteDescription(t *testing.T) {
	b := newPeer(t, "B")
	ctx := context.Background()
	if err := b.neg.HandleIncomingPeer(ctx, "A"); err != nil {
		t.Fatal(err)
	}

	want := []string{"c0", "c1", "bad", "c3", "c4"}
	for _, c := range want {
		b.neg.HandleCandidate("A", webrtc.ICECandidateInit{Candidate: c})
	}
	if got := b.neg.State().QueuedCandidates; got != len(want) {
		t.Fatalf("queued = %d, want %d", got, len(want))
	}
	if len(b.conn().appliedCandidates()) != 0 {
		t.Fatal("candidates applied before a remote description")
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "A-offer-1"}
	if err := b.neg.HandleOffer(ctx, "A", offer); err != nil {
		t.Fatal(err)
	}

	got := b.conn().appliedCandidates()
	if len(got) != len(want) {
		t.Fatalf("apply attempts = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("attempt %d = %q, want %q", i, got[i], want[i])
		}
	}

	s := b.neg.Stats().Snapshot()
	if s.CandidatesQueued != 5 || s.CandidatesApplied != 4 || s.CandidateFailures != 1 {
		t.Errorf("stats = %+v", s)
	}
	if b.neg.State().QueuedCandidates != 0 {
		t.Error("queue not empty after flush")
	}

	// Later candidates go straight to the connection.
	b.neg.HandleCandidate("A", webrtc.ICECandidateInit{Candidate: "c5"})
	if got := b.conn().appliedCandidates(); got[len(got)-1] != "c5" {
		t.Errorf("late candidate not applied directly: %v", got)
	}
}

// TestCandidateWithoutSession verifies stray candidates are dropped.
func TestCandidateWithoutSession(t *testing.T) {
	b := newPeer(t, "B")
	b.neg.HandleCandidate("A", webrtc.ICECandidateInit{Candidate: "c0"})
	if b.neg.State().Active {
		t.Error("candidate created a session")
	}
	if b.neg.Stats().CandidatesQueued.Load() != 0 {
		t.Error("candidate queued without a session")
	}
}

// TestMalformedOfferKeepsSession verifies bad SDP is reported but the
// session survives.
func TestMalformedOfferKeepsSession(t *testing.T) {
	b := newPeer(t, "B")
	bad := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "garbage"}

	if err := b.neg.HandleOffer(context.Background(), "A", bad); err == nil {
		t.Fatal("expected an error for malformed SDP")
	}
	st := b.neg.State()
	if !st.Active || st.Signal != SignalStable {
		t.Errorf("state after bad offer = %+v", st)
	}
	if b.sig.count("answer") != 0 {
		t.Error("answered a malformed offer")
	}
}

// TestStrayMessagesDropped covers answers with no offer and messages from a
// third party.
func TestStrayMessagesDropped(t *testing.T) {
	a := newPeer(t, "A")
	ctx := context.Background()
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "x-answer"}

	if err := a.neg.HandleAnswer("B", answer); err != nil {
		t.Errorf("answer without session: %v", err)
	}

	if err := a.neg.HandleIncomingPeer(ctx, "B"); err != nil {
		t.Fatal(err)
	}
	if err := a.neg.HandleAnswer("B", answer); err != nil {
		t.Errorf("answer without offer: %v", err)
	}
	if a.conn().RemoteDescription() != nil {
		t.Error("unsolicited answer was applied")
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "C-offer-1"}
	if err := a.neg.HandleOffer(ctx, "C", offer); err != nil {
		t.Errorf("offer from third party: %v", err)
	}
	if a.conn().RemoteDescription() != nil || a.neg.PeerID() != "B" {
		t.Error("third-party offer changed the session")
	}
}

// TestRenegotiate verifies a second offer is only sent from a stable session.
func TestRenegotiate(t *testing.T) {
	a, b := newPeer(t, "A"), newPeer(t, "B")
	ctx := context.Background()

	if err := a.neg.Renegotiate(); !errors.Is(err, ErrNoSession) {
		t.Errorf("Renegotiate without session = %v, want ErrNoSession", err)
	}

	if err := a.neg.Initiate(ctx, "B"); err != nil {
		t.Fatal(err)
	}
	// Outstanding offer: a second one is skipped.
	if err := a.neg.Renegotiate(); err != nil {
		t.Fatal(err)
	}
	if a.sig.count("offer") != 1 {
		t.Fatalf("offers = %d, want 1", a.sig.count("offer"))
	}

	deliver(t, a, b)
	deliver(t, b, a)
	a.conn().fire(webrtc.PeerConnectionStateConnected)

	if err := a.neg.Renegotiate(); err != nil {
		t.Fatal(err)
	}
	deliver(t, a, b)
	deliver(t, b, a)

	if a.neg.Stats().OffersSent.Load() != 2 || b.neg.Stats().AnswersSent.Load() != 2 {
		t.Errorf("offers=%d answers=%d", a.neg.Stats().OffersSent.Load(), b.neg.Stats().AnswersSent.Load())
	}
	if a.neg.State().Phase != PhaseConnected {
		t.Errorf("phase after renegotiation = %s", a.neg.State().Phase)
	}
}

// TestTeardownResets verifies teardown closes the connection, releases
// media, clears the queue and lets the next call start fresh.
func TestTeardownResets(t *testing.T) {
	b := newPeer(t, "B")
	ctx := context.Background()

	if err := b.neg.HandleIncomingPeer(ctx, "A"); err != nil {
		t.Fatal(err)
	}
	b.neg.HandleCandidate("A", webrtc.ICECandidateInit{Candidate: "c0"})
	first := b.conn()

	b.neg.Teardown()
	b.neg.Teardown()

	if !first.isClosed() {
		t.Error("connection not closed")
	}
	st := b.neg.State()
	if st.Active || st.QueuedCandidates != 0 || st.HasDataChannel {
		t.Errorf("state after teardown = %+v", st)
	}
	if acq, stop := b.media.counts(); acq != 1 || stop != 1 {
		t.Errorf("media acquired=%d stopped=%d", acq, stop)
	}

	// A stale callback from the old connection changes nothing.
	first.fire(webrtc.PeerConnectionStateConnected)

	if err := b.neg.Initiate(ctx, "C"); err != nil {
		t.Fatal(err)
	}
	st = b.neg.State()
	if st.Role != RoleImpolite || st.PeerID != "C" || b.conn() == first {
		t.Errorf("new session = %+v", st)
	}
}

// TestConnectionFailedTearsDown verifies a failed connection ends the call.
func TestConnectionFailedTearsDown(t *testing.T) {
	a, b := newPeer(t, "A"), newPeer(t, "B")
	ctx := context.Background()
	if err := a.neg.Initiate(ctx, "B"); err != nil {
		t.Fatal(err)
	}
	deliver(t, a, b)
	deliver(t, b, a)

	conn := a.conn()
	conn.fire(webrtc.PeerConnectionStateFailed)

	if a.neg.State().Active {
		t.Fatal("session survived a failed connection")
	}
	deadline := time.Now().Add(time.Second)
	for !conn.isClosed() {
		if time.Now().After(deadline) {
			t.Fatal("connection not closed after failure")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, stop := a.media.counts(); stop != 1 {
		t.Errorf("media stopped %d times, want 1", stop)
	}

	a.mu.Lock()
	last := a.phases[len(a.phases)-1]
	a.mu.Unlock()
	if last != PhaseClosed {
		t.Errorf("last phase = %s, want closed", last)
	}
}

// TestMediaDeniedContinues verifies a call proceeds without local media.
func TestMediaDeniedContinues(t *testing.T) {
	a := newPeer(t, "A")
	a.media.deny = true
	if err := a.neg.Initiate(context.Background(), "B"); err != nil {
		t.Fatal(err)
	}
	st := a.neg.State()
	if st.HasLocalMedia {
		t.Error("HasLocalMedia = true with denied media")
	}
	if a.sig.count("offer") != 1 {
		t.Error("no offer sent without media")
	}
}

// TestClosedRejects verifies operations after Close fail.
func TestClosedRejects(t *testing.T) {
	a := newPeer(t, "A")
	a.neg.Close()

	ctx := context.Background()
	if err := a.neg.Initiate(ctx, "B"); !errors.Is(err, ErrClosed) {
		t.Errorf("Initiate = %v, want ErrClosed", err)
	}
	if err := a.neg.HandleIncomingPeer(ctx, "B"); !errors.Is(err, ErrClosed) {
		t.Errorf("HandleIncomingPeer = %v, want ErrClosed", err)
	}
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "B-offer-1"}
	if err := a.neg.HandleOffer(ctx, "B", offer); !errors.Is(err, ErrClosed) {
		t.Errorf("HandleOffer = %v, want ErrClosed", err)
	}
}
