package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"taskpilot/app/pkg/types"
)

// DefaultGateway fans channels into the handler. Events are dispatched per
// user in arrival order: one user's events never interleave, independent
// users run in parallel.
type DefaultGateway struct {
	handler types.Handler
	log     *logrus.Entry

	mu       sync.RWMutex
	channels map[string]types.Channel

	queueMu sync.Mutex
	queues  map[string]*userQueue

	processedEvents uint64
	lastEventUnix   atomic.Int64
	startedUnix     atomic.Int64
}

// userQueue is a run-to-drain mailbox for one user identity.
type userQueue struct {
	pending []types.Event
	active  bool
}

type HealthStatus struct {
	Started            bool
	StartedAt          time.Time
	RegisteredChannels []string
	ProcessedEvents    uint64
	LastEventAt        time.Time
}

func NewGateway(log *logrus.Entry) *DefaultGateway {
	return &DefaultGateway{
		log:      log.WithField("component", "gateway"),
		channels: make(map[string]types.Channel),
		queues:   make(map[string]*userQueue),
	}
}

// SetHandler wires the event handler. Must be called before Start.
func (g *DefaultGateway) SetHandler(handler types.Handler) {
	g.mu.Lock()
	g.handler = handler
	g.mu.Unlock()
}

func (g *DefaultGateway) RegisterChannel(c types.Channel) {
	g.mu.Lock()
	g.channels[c.ID()] = c
	g.mu.Unlock()
	g.log.WithField("channel", c.ID()).Info("registered channel")
}

func (g *DefaultGateway) Start(ctx context.Context) error {
	g.mu.RLock()
	if g.handler == nil {
		g.mu.RUnlock()
		return fmt.Errorf("gateway has no handler")
	}
	channels := make([]types.Channel, 0, len(g.channels))
	for _, c := range g.channels {
		channels = append(channels, c)
	}
	g.mu.RUnlock()

	g.startedUnix.Store(time.Now().Unix())

	var wg sync.WaitGroup
	for _, c := range channels {
		wg.Add(1)
		go func(ch types.Channel) {
			defer wg.Done()
			if err := ch.Start(ctx, func(ev types.Event) { g.enqueue(ctx, ev) }); err != nil && ctx.Err() == nil {
				g.log.WithField("channel", ch.ID()).WithError(err).Error("channel stopped")
			}
		}(c)
	}

	g.log.Info("started all channels")
	wg.Wait()
	return nil
}

// enqueue appends the event to the user's mailbox and starts a drain worker
// unless one is already running for that user.
func (g *DefaultGateway) enqueue(ctx context.Context, ev types.Event) {
	key := strings.TrimSpace(ev.User.PlatformID)
	if key == "" {
		g.log.WithField("channel", ev.ChannelID).Warn("dropping event without user identity")
		return
	}
	atomic.AddUint64(&g.processedEvents, 1)
	g.lastEventUnix.Store(time.Now().Unix())

	g.queueMu.Lock()
	q, ok := g.queues[key]
	if !ok {
		q = &userQueue{}
		g.queues[key] = q
	}
	q.pending = append(q.pending, ev)
	startWorker := !q.active
	q.active = true
	g.queueMu.Unlock()

	if startWorker {
		go g.drain(ctx, key)
	}
}

func (g *DefaultGateway) drain(ctx context.Context, key string) {
	for {
		g.queueMu.Lock()
		q := g.queues[key]
		if len(q.pending) == 0 {
			q.active = false
			delete(g.queues, key)
			g.queueMu.Unlock()
			return
		}
		ev := q.pending[0]
		q.pending = q.pending[1:]
		g.queueMu.Unlock()

		g.process(ctx, ev)
	}
}

func (g *DefaultGateway) process(ctx context.Context, ev types.Event) {
	g.mu.RLock()
	handler := g.handler
	g.mu.RUnlock()

	reply, err := handler.HandleEvent(ctx, ev)
	if err != nil {
		g.log.WithFields(logrus.Fields{
			"channel": ev.ChannelID,
			"user":    ev.User.PlatformID,
			"request": ev.RequestID,
		}).WithError(err).Error("event processing failed")
		reply = types.Message{Text: "Something went wrong. Please try again."}
	}
	if reply.Text == "" && len(reply.Choices) == 0 {
		return
	}

	normalizeReply(&reply, ev)
	channel, exists := g.channelByID(reply.ChannelID)
	if !exists {
		g.log.WithField("channel", reply.ChannelID).Error("channel not found for reply")
		return
	}
	if err := channel.Send(ctx, reply); err != nil {
		g.log.WithFields(logrus.Fields{
			"channel": reply.ChannelID,
			"user":    ev.User.PlatformID,
		}).WithError(err).Error("reply delivery failed")
	}
}

// DeliverDirect sends an unsolicited notification, bypassing the event
// pipeline. The reminder scheduler uses this.
func (g *DefaultGateway) DeliverDirect(ctx context.Context, channelID string, to string, content string) error {
	channelID = strings.TrimSpace(channelID)
	to = strings.TrimSpace(to)
	if channelID == "" {
		return fmt.Errorf("channel id is required")
	}
	if to == "" {
		return fmt.Errorf("delivery target is required")
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("delivery content is required")
	}

	channel, exists := g.channelByID(channelID)
	if !exists {
		return fmt.Errorf("channel not found: %s", channelID)
	}
	return channel.Send(ctx, types.Message{
		ID:          uuid.NewString(),
		Text:        content,
		ChannelID:   channelID,
		RecipientID: to,
	})
}

func normalizeReply(reply *types.Message, ev types.Event) {
	if reply.ID == "" {
		reply.ID = uuid.NewString()
	}
	if reply.ChannelID == "" {
		reply.ChannelID = ev.ChannelID
	}
	if reply.RecipientID == "" {
		reply.RecipientID = ev.User.PlatformID
	}
	if reply.RequestID == "" {
		reply.RequestID = ev.RequestID
	}
}

func (g *DefaultGateway) channelByID(channelID string) (types.Channel, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	channel, exists := g.channels[channelID]
	return channel, exists
}

func (g *DefaultGateway) HealthStatus() HealthStatus {
	g.mu.RLock()
	channels := make([]string, 0, len(g.channels))
	for id := range g.channels {
		channels = append(channels, id)
	}
	g.mu.RUnlock()
	sort.Strings(channels)

	status := HealthStatus{
		RegisteredChannels: channels,
		ProcessedEvents:    atomic.LoadUint64(&g.processedEvents),
	}
	if started := g.startedUnix.Load(); started > 0 {
		status.Started = true
		status.StartedAt = time.Unix(started, 0).UTC()
	}
	if last := g.lastEventUnix.Load(); last > 0 {
		status.LastEventAt = time.Unix(last, 0).UTC()
	}
	return status
}
