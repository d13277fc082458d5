package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"taskpilot/app/pkg/types"
)

type echoHandler struct {
	mu     sync.Mutex
	seen   []types.Event
	delay  time.Duration
	err    error
	silent bool
}

func (h *echoHandler) HandleEvent(_ context.Context, ev types.Event) (types.Message, error) {
	h.mu.Lock()
	h.seen = append(h.seen, ev)
	h.mu.Unlock()
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	if h.err != nil {
		return types.Message{}, h.err
	}
	if h.silent {
		return types.Message{}, nil
	}
	return types.Message{Text: "echo: " + ev.Payload}, nil
}

type stubChannel struct {
	id      string
	mu      sync.Mutex
	sent    []types.Message
	emit    func(func(types.Event))
	sendErr error
}

func (c *stubChannel) ID() string { return c.id }

func (c *stubChannel) Start(ctx context.Context, handler func(types.Event)) error {
	if c.emit != nil {
		c.emit(handler)
	}
	<-ctx.Done()
	return nil
}

func (c *stubChannel) Send(_ context.Context, msg types.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *stubChannel) messages() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Message, len(c.sent))
	copy(out, c.sent)
	return out
}

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func userEvent(user string, payload string) types.Event {
	return types.Event{
		Kind:      types.EventText,
		Payload:   payload,
		User:      types.Identity{PlatformID: user},
		ChannelID: "stub",
		RequestID: "req-" + payload,
	}
}

func TestStartWithoutHandlerFails(t *testing.T) {
	gw := NewGateway(testLogger())
	if err := gw.Start(context.Background()); err == nil {
		t.Fatal("expected error without handler")
	}
}

func TestReplyRoutedBackToOriginChannel(t *testing.T) {
	gw := NewGateway(testLogger())
	handler := &echoHandler{}
	gw.SetHandler(handler)

	channel := &stubChannel{id: "stub", emit: func(h func(types.Event)) {
		h(userEvent("u1", "hello"))
	}}
	gw.RegisterChannel(channel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gw.Start(ctx)

	waitFor(t, func() bool { return len(channel.messages()) == 1 })
	msg := channel.messages()[0]
	if msg.Text != "echo: hello" {
		t.Fatalf("unexpected reply: %q", msg.Text)
	}
	if msg.RecipientID != "u1" || msg.ChannelID != "stub" || msg.RequestID != "req-hello" {
		t.Fatalf("reply not normalized: %+v", msg)
	}
	if msg.ID == "" {
		t.Fatal("reply id must be filled")
	}
}

func TestPerUserOrderingUnderConcurrency(t *testing.T) {
	gw := NewGateway(testLogger())
	handler := &echoHandler{delay: time.Millisecond, silent: true}
	gw.SetHandler(handler)

	const perUser = 20
	channel := &stubChannel{id: "stub", emit: func(h func(types.Event)) {
		var wg sync.WaitGroup
		for _, user := range []string{"u1", "u2", "u3"} {
			wg.Add(1)
			go func(user string) {
				defer wg.Done()
				for i := 0; i < perUser; i++ {
					h(userEvent(user, fmt.Sprintf("%s-%d", user, i)))
				}
			}(user)
		}
		wg.Wait()
	}}
	gw.RegisterChannel(channel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gw.Start(ctx)

	waitFor(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return len(handler.seen) == 3*perUser
	})

	handler.mu.Lock()
	defer handler.mu.Unlock()
	perUserSeen := make(map[string][]int)
	for _, ev := range handler.seen {
		user, indexText, _ := strings.Cut(ev.Payload, "-")
		index, err := strconv.Atoi(indexText)
		if err != nil {
			t.Fatalf("bad payload %q", ev.Payload)
		}
		perUserSeen[user] = append(perUserSeen[user], index)
	}
	for user, indexes := range perUserSeen {
		for i, index := range indexes {
			if index != i {
				t.Fatalf("user %s saw out-of-order event %d at position %d", user, index, i)
			}
		}
	}
}

func TestHandlerErrorProducesApology(t *testing.T) {
	gw := NewGateway(testLogger())
	gw.SetHandler(&echoHandler{err: errors.New("boom")})

	channel := &stubChannel{id: "stub", emit: func(h func(types.Event)) {
		h(userEvent("u1", "hello"))
	}}
	gw.RegisterChannel(channel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gw.Start(ctx)

	waitFor(t, func() bool { return len(channel.messages()) == 1 })
	if got := channel.messages()[0].Text; !strings.Contains(got, "Something went wrong") {
		t.Fatalf("unexpected reply: %q", got)
	}
}

func TestEmptyReplyIsNotSent(t *testing.T) {
	gw := NewGateway(testLogger())
	handler := &echoHandler{silent: true}
	gw.SetHandler(handler)

	channel := &stubChannel{id: "stub", emit: func(h func(types.Event)) {
		h(userEvent("u1", "ignored"))
	}}
	gw.RegisterChannel(channel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gw.Start(ctx)

	waitFor(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return len(handler.seen) == 1
	})
	time.Sleep(20 * time.Millisecond)
	if len(channel.messages()) != 0 {
		t.Fatalf("empty reply must not be sent, got %+v", channel.messages())
	}
}

func TestEventWithoutIdentityIsDropped(t *testing.T) {
	gw := NewGateway(testLogger())
	handler := &echoHandler{}
	gw.SetHandler(handler)

	channel := &stubChannel{id: "stub", emit: func(h func(types.Event)) {
		ev := userEvent("", "anonymous")
		h(ev)
		h(userEvent("u1", "named"))
	}}
	gw.RegisterChannel(channel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gw.Start(ctx)

	waitFor(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return len(handler.seen) == 1
	})
	handler.mu.Lock()
	defer handler.mu.Unlock()
	if handler.seen[0].Payload != "named" {
		t.Fatalf("anonymous event leaked through: %+v", handler.seen)
	}
}

func TestDeliverDirect(t *testing.T) {
	gw := NewGateway(testLogger())
	gw.SetHandler(&echoHandler{})
	channel := &stubChannel{id: "telegram"}
	gw.RegisterChannel(channel)

	if err := gw.DeliverDirect(context.Background(), "telegram", "tg-1", "Reminder: ..."); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	msgs := channel.messages()
	if len(msgs) != 1 || msgs[0].RecipientID != "tg-1" {
		t.Fatalf("unexpected delivery: %+v", msgs)
	}

	if err := gw.DeliverDirect(context.Background(), "missing", "tg-1", "x"); err == nil {
		t.Fatal("expected error for unknown channel")
	}
	if err := gw.DeliverDirect(context.Background(), "telegram", "", "x"); err == nil {
		t.Fatal("expected error for empty target")
	}
	if err := gw.DeliverDirect(context.Background(), "telegram", "tg-1", "  "); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestHealthStatus(t *testing.T) {
	gw := NewGateway(testLogger())
	gw.SetHandler(&echoHandler{})
	channel := &stubChannel{id: "stub", emit: func(h func(types.Event)) {
		h(userEvent("u1", "one"))
	}}
	gw.RegisterChannel(channel)

	before := gw.HealthStatus()
	if before.Started {
		t.Fatal("not started yet")
	}
	if len(before.RegisteredChannels) != 1 || before.RegisteredChannels[0] != "stub" {
		t.Fatalf("channels: %+v", before.RegisteredChannels)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gw.Start(ctx)

	waitFor(t, func() bool { return gw.HealthStatus().ProcessedEvents == 1 })
	after := gw.HealthStatus()
	if !after.Started || after.LastEventAt.IsZero() {
		t.Fatalf("unexpected status: %+v", after)
	}
}
