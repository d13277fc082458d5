package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"taskpilot/app/pkg/types"
)

const defaultAPIRoot = "https://api.telegram.org"

type Config struct {
	BotToken       string
	PollInterval   time.Duration
	TimeoutSeconds int
	APIRoot        string
}

// Channel long-polls the Telegram Bot API. Plain messages become text
// events; callback queries from inline keyboards become choice events with
// the callback data as the opaque token.
type Channel struct {
	cfg Config
	id  string
	log *logrus.Entry

	offset int64

	mu      sync.RWMutex
	handler func(types.Event)
}

func NewChannel(cfg Config, log *logrus.Entry) *Channel {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 20
	}
	if strings.TrimSpace(cfg.APIRoot) == "" {
		cfg.APIRoot = defaultAPIRoot
	}
	return &Channel{cfg: cfg, id: "telegram", log: log.WithField("channel", "telegram")}
}

func (c *Channel) ID() string {
	return c.id
}

func (c *Channel) Start(ctx context.Context, handler func(types.Event)) error {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()

	if strings.TrimSpace(c.cfg.BotToken) == "" {
		return fmt.Errorf("telegram bot token is required")
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := c.pollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.WithError(err).Error("poll failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Send delivers text to a chat. For private chats the recipient's user id
// is the chat id, which is how reminders reach an assignee directly.
func (c *Channel) Send(ctx context.Context, msg types.Message) error {
	chatID := strings.TrimSpace(msg.RecipientID)
	if chatID == "" {
		return fmt.Errorf("telegram chat id is required")
	}

	payload := map[string]interface{}{
		"chat_id": chatID,
		"text":    msg.Text,
	}
	if len(msg.Choices) > 0 {
		rows := make([][]inlineButton, 0, len(msg.Choices))
		for _, choice := range msg.Choices {
			rows = append(rows, []inlineButton{{Text: choice.Label, CallbackData: choice.Token}})
		}
		payload["reply_markup"] = inlineKeyboard{InlineKeyboard: rows}
	}
	return c.call(ctx, "sendMessage", payload, nil)
}

func (c *Channel) pollOnce(ctx context.Context) error {
	result := getUpdatesResponse{}
	offset := atomic.LoadInt64(&c.offset)
	payload := map[string]interface{}{
		"timeout":         c.cfg.TimeoutSeconds,
		"allowed_updates": []string{"message", "callback_query"},
	}
	if offset > 0 {
		payload["offset"] = offset
	}
	if err := c.call(ctx, "getUpdates", payload, &result); err != nil {
		return err
	}

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler == nil {
		return nil
	}

	for _, upd := range result.Result {
		if upd.UpdateID >= atomic.LoadInt64(&c.offset) {
			atomic.StoreInt64(&c.offset, upd.UpdateID+1)
		}

		if upd.CallbackQuery.ID != "" {
			// Ack first so the client stops showing a spinner.
			ack := map[string]interface{}{"callback_query_id": upd.CallbackQuery.ID}
			if err := c.call(ctx, "answerCallbackQuery", ack, nil); err != nil {
				c.log.WithError(err).Warn("callback ack failed")
			}
			if strings.TrimSpace(upd.CallbackQuery.Data) == "" {
				continue
			}
			handler(c.choiceEvent(upd.CallbackQuery))
			continue
		}

		if upd.Message.MessageID == 0 || strings.TrimSpace(upd.Message.Text) == "" {
			continue
		}
		handler(c.textEvent(upd.Message))
	}
	return nil
}

func (c *Channel) textEvent(msg telegramMessage) types.Event {
	return types.Event{
		ID:        uuid.NewString(),
		Kind:      types.EventText,
		Payload:   strings.TrimSpace(msg.Text),
		User:      identityOf(msg.From),
		ChannelID: c.id,
		RequestID: uuid.NewString(),
	}
}

func (c *Channel) choiceEvent(query callbackQuery) types.Event {
	return types.Event{
		ID:        uuid.NewString(),
		Kind:      types.EventChoice,
		Payload:   strings.TrimSpace(query.Data),
		User:      identityOf(query.From),
		ChannelID: c.id,
		RequestID: uuid.NewString(),
	}
}

func identityOf(user telegramUser) types.Identity {
	name := strings.TrimSpace(user.Username)
	if name == "" {
		name = strings.TrimSpace(strings.TrimSpace(user.FirstName) + " " + strings.TrimSpace(user.LastName))
	}
	return types.Identity{
		PlatformID:  strconv.FormatInt(user.ID, 10),
		DisplayName: name,
	}
}

func (c *Channel) call(ctx context.Context, method string, payload interface{}, out interface{}) error {
	url := strings.TrimRight(c.cfg.APIRoot, "/") + "/bot" + c.cfg.BotToken + "/" + method
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("telegram api status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var base apiResponse
	if err := json.Unmarshal(respBody, &base); err != nil {
		return err
	}
	if !base.OK {
		return fmt.Errorf("telegram api error: %s", base.Description)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return err
		}
	}
	return nil
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

type getUpdatesResponse struct {
	apiResponse
	Result []update `json:"result"`
}

type update struct {
	UpdateID      int64           `json:"update_id"`
	Message       telegramMessage `json:"message"`
	CallbackQuery callbackQuery   `json:"callback_query"`
}

type telegramUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type telegramMessage struct {
	MessageID int64        `json:"message_id"`
	From      telegramUser `json:"from"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Text string `json:"text"`
}

type callbackQuery struct {
	ID   string       `json:"id"`
	From telegramUser `json:"from"`
	Data string       `json:"data"`
}

type inlineKeyboard struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}
