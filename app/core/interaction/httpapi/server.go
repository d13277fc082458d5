package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"taskpilot/app/pkg/types"
)

const replyTimeout = 15 * time.Second

type Config struct {
	Port int
}

// Channel exposes the assistant over HTTP. Each POST /api/event is turned
// into one gateway event and the handler blocks until the assistant's
// reply for that request arrives, so clients get a synchronous exchange
// over an asynchronous core.
type Channel struct {
	cfg Config
	id  string
	log *logrus.Entry

	mu      sync.Mutex
	pending map[string]chan types.Message

	handlerMu sync.RWMutex
	handler   func(types.Event)
}

func NewChannel(cfg Config, log *logrus.Entry) *Channel {
	if cfg.Port <= 0 {
		cfg.Port = 8080
	}
	return &Channel{
		cfg:     cfg,
		id:      "http",
		log:     log.WithField("channel", "http"),
		pending: make(map[string]chan types.Message),
	}
}

func (c *Channel) ID() string {
	return c.id
}

func (c *Channel) Start(ctx context.Context, handler func(types.Event)) error {
	c.handlerMu.Lock()
	c.handler = handler
	c.handlerMu.Unlock()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/api/event", c.handleEvent)
	router.GET("/healthz", func(gctx *gin.Context) {
		gctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", c.cfg.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	c.log.WithField("port", c.cfg.Port).Info("http channel listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			c.log.WithError(err).Warn("http shutdown")
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Send resolves the pending request waiting on the message's request id.
// Replies with no waiter are dropped; the client has already timed out.
func (c *Channel) Send(ctx context.Context, msg types.Message) error {
	c.mu.Lock()
	waiter, ok := c.pending[msg.RequestID]
	if ok {
		delete(c.pending, msg.RequestID)
	}
	c.mu.Unlock()

	if !ok {
		c.log.WithField("request_id", msg.RequestID).Debug("no waiter for reply")
		return nil
	}

	select {
	case waiter <- msg:
	default:
	}
	return nil
}

type eventRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	DisplayName string `json:"display_name"`
	Kind        string `json:"kind"`
	Payload     string `json:"payload" binding:"required"`
}

type eventResponse struct {
	Text    string         `json:"text"`
	Choices []choicePayload `json:"choices,omitempty"`
}

type choicePayload struct {
	Label string `json:"label"`
	Token string `json:"token"`
}

func (c *Channel) handleEvent(gctx *gin.Context) {
	var req eventRequest
	if err := gctx.ShouldBindJSON(&req); err != nil {
		gctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kind := types.EventText
	if strings.EqualFold(strings.TrimSpace(req.Kind), "choice") {
		kind = types.EventChoice
	}

	c.handlerMu.RLock()
	handler := c.handler
	c.handlerMu.RUnlock()
	if handler == nil {
		gctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "channel is not started"})
		return
	}

	requestID := uuid.NewString()
	waiter := make(chan types.Message, 1)
	c.mu.Lock()
	c.pending[requestID] = waiter
	c.mu.Unlock()

	handler(types.Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		Payload: strings.TrimSpace(req.Payload),
		User: types.Identity{
			PlatformID:  strings.TrimSpace(req.UserID),
			DisplayName: strings.TrimSpace(req.DisplayName),
		},
		ChannelID: c.id,
		RequestID: requestID,
	})

	select {
	case reply := <-waiter:
		resp := eventResponse{Text: reply.Text}
		for _, choice := range reply.Choices {
			resp.Choices = append(resp.Choices, choicePayload{Label: choice.Label, Token: choice.Token})
		}
		gctx.JSON(http.StatusOK, resp)
	case <-time.After(replyTimeout):
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
		gctx.JSON(http.StatusOK, eventResponse{})
	case <-gctx.Request.Context().Done():
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
	}
}
