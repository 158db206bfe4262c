package message

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/praxisworks/praxis-realtime/internal/clock"
	"github.com/praxisworks/praxis-realtime/internal/connection"
	"github.com/praxisworks/praxis-realtime/internal/frame"
)

// fakeSender records sent frames and reports a configurable state.
type fakeSender struct {
	mu    sync.Mutex
	state connection.State
	sent  []frame.Frame
	err   error
}

func newFakeSender() *fakeSender {
	return &fakeSender{state: connection.StateAuthenticated}
}

func (s *fakeSender) Send(f frame.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, f)
	return nil
}

func (s *fakeSender) State() connection.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSender) setState(state connection.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *fakeSender) lastSend(t *testing.T) *frame.MessageSend {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		t.Fatal("nothing sent")
	}
	msg, ok := s.sent[len(s.sent)-1].(*frame.MessageSend)
	if !ok {
		t.Fatalf("last sent frame is %T, want *frame.MessageSend", s.sent[len(s.sent)-1])
	}
	return msg
}

func ackFor(clientID string, seq float64) *frame.MessageAck {
	return &frame.MessageAck{
		MessageID: "m-" + clientID,
		Seq:       seq,
		ServerTS:  "2024-01-01T00:00:00Z",
		ClientID:  clientID,
	}
}

func TestChannel_HappyPathSend(t *testing.T) {
	sender := newFakeSender()
	ch := NewChannel(sender, nil)

	p, err := ch.Send("c1", "hi")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if p.ClientID == "" {
		t.Fatal("Pending has empty ClientID")
	}

	sent := sender.lastSend(t)
	if sent.ConversationID != "c1" || sent.Content != "hi" || sent.ClientID != p.ClientID {
		t.Errorf("sent frame = %+v", sent)
	}

	ch.HandleFrame(ackFor(p.ClientID, 1))

	ack, err := p.Ack(context.Background())
	if err != nil {
		t.Fatalf("Ack failed: %v", err)
	}
	if ack.Seq != 1 {
		t.Errorf("Seq = %d, want 1", ack.Seq)
	}
	if ack.ClientID != p.ClientID {
		t.Errorf("ClientID = %q, want %q", ack.ClientID, p.ClientID)
	}
	if ch.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", ch.PendingCount())
	}
}

func TestChannel_ValidationNeverReachesWire(t *testing.T) {
	sender := newFakeSender()
	ch := NewChannel(sender, nil)

	if _, err := ch.Send("", "hi"); !errors.Is(err, ErrEmptyConversation) {
		t.Errorf("empty conversation: err = %v", err)
	}
	if _, err := ch.Send("c1", ""); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("empty content: err = %v", err)
	}

	sender.setState(connection.StateConnecting)
	if _, err := ch.Send("c1", "hi"); !errors.Is(err, connection.ErrNotAuthenticated) {
		t.Errorf("unauthenticated: err = %v", err)
	}

	sender.mu.Lock()
	sentCount := len(sender.sent)
	sender.mu.Unlock()
	if sentCount != 0 {
		t.Errorf("%d frames reached the wire on rejected sends", sentCount)
	}
}

func TestChannel_IdempotencyKeysUnique(t *testing.T) {
	sender := newFakeSender()
	ch := NewChannel(sender, nil)

	p1, err := ch.Send("c1", "first")
	if err != nil {
		t.Fatalf("Send 1 failed: %v", err)
	}
	p2, err := ch.Send("c1", "second")
	if err != nil {
		t.Fatalf("Send 2 failed: %v", err)
	}

	if p1.ClientID == p2.ClientID {
		t.Fatalf("both sends used key %q", p1.ClientID)
	}
	if ch.PendingCount() != 2 {
		t.Fatalf("PendingCount = %d, want 2", ch.PendingCount())
	}

	// Each ack resolves exactly one pending request.
	ch.HandleFrame(ackFor(p2.ClientID, 1))
	if _, err := p2.Ack(context.Background()); err != nil {
		t.Errorf("p2 Ack failed: %v", err)
	}
	if ch.PendingCount() != 1 {
		t.Errorf("PendingCount = %d after one ack, want 1", ch.PendingCount())
	}

	ch.HandleFrame(ackFor(p1.ClientID, 2))
	if _, err := p1.Ack(context.Background()); err != nil {
		t.Errorf("p1 Ack failed: %v", err)
	}
}

func TestChannel_DuplicateAckIsNoOp(t *testing.T) {
	sender := newFakeSender()
	ch := NewChannel(sender, nil)

	p, err := ch.Send("c1", "hi")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	ch.HandleFrame(ackFor(p.ClientID, 1))
	if _, err := p.Ack(context.Background()); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}

	// Second identical ack: map lookup miss, silent no-op.
	ch.HandleFrame(ackFor(p.ClientID, 1))

	if ch.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", ch.PendingCount())
	}
	if ack, err := p.Ack(context.Background()); err != nil || ack.Seq != 1 {
		t.Errorf("resolved pending changed: ack=%+v err=%v", ack, err)
	}
}

func TestChannel_AckTimeout(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	sender := newFakeSender()
	ch := NewChannel(sender, nil, WithClock(clk))

	p, err := ch.Send("c1", "hi")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	clk.Advance(9 * time.Second)
	if ch.PendingCount() != 1 {
		t.Fatal("pending removed before the 10s timeout")
	}

	clk.Advance(2 * time.Second)

	_, err = p.Ack(context.Background())
	if !errors.Is(err, ErrAckTimeout) {
		t.Errorf("Ack err = %v, want ErrAckTimeout", err)
	}
	if ch.PendingCount() != 0 {
		t.Errorf("PendingCount = %d after timeout, want 0", ch.PendingCount())
	}

	// A late ack for the timed-out key is a no-op.
	ch.HandleFrame(ackFor(p.ClientID, 1))
}

func TestChannel_InvalidAckRejectsPending(t *testing.T) {
	sender := newFakeSender()
	ch := NewChannel(sender, nil)

	p, err := ch.Send("c1", "hi")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	ch.HandleFrame(&frame.MessageAck{
		// message_id missing
		Seq:      1,
		ServerTS: "2024-01-01T00:00:00Z",
		ClientID: p.ClientID,
	})

	_, err = p.Ack(context.Background())
	if !errors.Is(err, ErrBadAck) {
		t.Errorf("Ack err = %v, want ErrBadAck", err)
	}
}

func TestChannel_DisconnectRejectsPendingImmediately(t *testing.T) {
	sender := newFakeSender()
	ch := NewChannel(sender, nil)

	p1, _ := ch.Send("c1", "one")
	p2, _ := ch.Send("c2", "two")

	sender.setState(connection.StateClosed)
	ch.ConnectionStateChanged(connection.StateAuthenticated, connection.StateClosed, errors.New("socket reset"))

	for _, p := range []*Pending{p1, p2} {
		_, err := p.Ack(context.Background())
		if !errors.Is(err, ErrConnectionClosed) {
			t.Errorf("Ack err = %v, want ErrConnectionClosed", err)
		}
	}
	if ch.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", ch.PendingCount())
	}
}

func TestChannel_DisconnectStopsAckTimers(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	sender := newFakeSender()
	ch := NewChannel(sender, nil, WithClock(clk))

	p, err := ch.Send("c1", "hi")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got := clk.PendingTimers(); got != 1 {
		t.Fatalf("pending timers = %d, want 1", got)
	}

	sender.setState(connection.StateClosed)
	ch.ConnectionStateChanged(connection.StateAuthenticated, connection.StateClosed, errors.New("socket reset"))

	// The disconnect already rejected the send; its ack timer must not
	// survive to fire against the drained map.
	if got := clk.PendingTimers(); got != 0 {
		t.Errorf("pending timers after disconnect = %d, want 0", got)
	}

	clk.Advance(time.Minute)
	if _, err := p.Ack(context.Background()); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Ack err = %v, want ErrConnectionClosed", err)
	}
}

func TestChannel_ConcurrentSendAndDisconnect(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	sender := newFakeSender()
	ch := NewChannel(sender, nil, WithClock(clk))

	const senders = 8
	results := make(chan *Pending, senders)

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := ch.Send("c1", "racing")
			if err != nil {
				results <- nil
				return
			}
			results <- p
		}()
	}

	// Tear the connection down while the sends are in flight. The observer
	// callback arrives on its own goroutine in production.
	go ch.ConnectionStateChanged(connection.StateAuthenticated, connection.StateClosed, errors.New("socket reset"))

	wg.Wait()
	close(results)

	// Every pending that made it into the map either got swept by the
	// disconnect or is still waiting; none may be left with a live timer
	// after a second sweep.
	ch.ConnectionStateChanged(connection.StateAuthenticated, connection.StateClosed, errors.New("socket reset"))

	for p := range results {
		if p == nil {
			continue
		}
		if _, err := p.Ack(context.Background()); !errors.Is(err, ErrConnectionClosed) {
			t.Errorf("Ack err = %v, want ErrConnectionClosed", err)
		}
	}
	if got := ch.PendingCount(); got != 0 {
		t.Errorf("PendingCount = %d, want 0", got)
	}
	if got := clk.PendingTimers(); got != 0 {
		t.Errorf("pending timers = %d, want 0", got)
	}
}

func TestChannel_AckContextCancellation(t *testing.T) {
	sender := newFakeSender()
	ch := NewChannel(sender, nil)

	p, err := ch.Send("c1", "hi")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := p.Ack(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Ack err = %v, want DeadlineExceeded", err)
	}

	// The pending entry survives a caller abandoning the wait.
	if ch.PendingCount() != 1 {
		t.Errorf("PendingCount = %d, want 1", ch.PendingCount())
	}
}
