package types

import "context"

type EventKind string

const (
	// EventText is free-form text typed by the user.
	EventText EventKind = "text"
	// EventChoice is a discrete option the user selected; Payload carries
	// the opaque token the channel echoed back.
	EventChoice EventKind = "choice"
)

// Identity is the user as the transport sees them. PlatformID is unique per
// transport account and is the key for lazy registration.
type Identity struct {
	PlatformID  string
	DisplayName string
}

// Event represents one inbound user action from a channel.
type Event struct {
	ID        string
	Kind      EventKind
	Payload   string // message text, or the selected choice token
	User      Identity
	ChannelID string
	RequestID string
}

// Choice is a discrete option presented to the user. Token is opaque to the
// transport and comes back verbatim in a choice event.
type Choice struct {
	Label string
	Token string
}

// Message represents one outbound reply or notification.
type Message struct {
	ID          string
	Text        string
	Choices     []Choice
	ChannelID   string
	RecipientID string // platform id of the recipient
	RequestID   string
}

// Handler processes inbound events and produces replies.
type Handler interface {
	HandleEvent(ctx context.Context, ev Event) (Message, error)
}

// Channel represents an input/output transport (Telegram, CLI, HTTP).
type Channel interface {
	Start(ctx context.Context, handler func(Event)) error
	Send(ctx context.Context, msg Message) error
	ID() string
}

// Gateway orchestrates channels and the handler.
type Gateway interface {
	RegisterChannel(c Channel)
	Start(ctx context.Context) error
}
