package bots

// Platform identifies the messaging platform.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
)

// IncomingMessage represents a message received from any platform.
type IncomingMessage struct {
	Platform  Platform
	ChatID    int64
	UserID    int64
	UserName  string
	Text      string
	MessageID int64
	Timestamp int64
}

// OutgoingMessage represents a response to send back.
type OutgoingMessage struct {
	ChatID  int64
	Text    string
	ReplyTo int64 // message id to reply to, 0 for none
}
