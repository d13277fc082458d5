package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"taskpilot/app/pkg/types"
)

// Channel reads events from stdin and prints replies to stdout. Lines
// starting with "@" are treated as choice tokens, matching what Send
// prints next to each option, so keyboard-driven flows stay usable in a
// terminal.
type Channel struct {
	id   string
	user types.Identity
	log  *logrus.Entry
}

func NewChannel(log *logrus.Entry) *Channel {
	return &Channel{
		id: "cli",
		user: types.Identity{
			PlatformID:  "cli-local",
			DisplayName: "local",
		},
		log: log.WithField("channel", "cli"),
	}
}

func (c *Channel) ID() string {
	return c.id
}

func (c *Channel) Start(ctx context.Context, handler func(types.Event)) error {
	fmt.Println("taskpilot cli — type /help to begin, prefix a token with @ to pick an option")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			handler(c.eventFor(line))
		}
	}
}

func (c *Channel) eventFor(line string) types.Event {
	kind := types.EventText
	payload := line
	if strings.HasPrefix(line, "@") {
		kind = types.EventChoice
		payload = strings.TrimPrefix(line, "@")
	}
	return types.Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   payload,
		User:      c.user,
		ChannelID: c.id,
		RequestID: uuid.NewString(),
	}
}

func (c *Channel) Send(_ context.Context, msg types.Message) error {
	fmt.Println(msg.Text)
	for i, choice := range msg.Choices {
		fmt.Printf("  %d. %s  (@%s)\n", i+1, choice.Label, choice.Token)
	}
	return nil
}
