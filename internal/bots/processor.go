package bots

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/avolkov/personaclone/internal/session"
)

// MessageHandler turns an incoming chat message into the persona's
// reply. Platform adapters depend on this, not on the Processor, so a
// new platform only needs to translate its wire format.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg IncomingMessage) (*OutgoingMessage, error)
}

// SessionService is the slice of the session manager the bot needs.
type SessionService interface {
	Open(ctx context.Context, userID string) (*session.Session, error)
	Reply(ctx context.Context, sessionID, text string) (*session.Turn, error)
	Close(ctx context.Context, sessionID string) error
}

// Processor connects incoming bot messages to persona sessions. Each
// chat gets its own session, so the clone keeps separate conversation
// context per chat.
type Processor struct {
	sessions SessionService
	userID   string // the cloned persona

	mu    sync.Mutex
	chats map[int64]string // chat id -> session id
}

// NewProcessor creates a message processor serving the given persona.
func NewProcessor(sessions SessionService, userID string) *Processor {
	return &Processor{
		sessions: sessions,
		userID:   userID,
		chats:    map[int64]string{},
	}
}

// HandleMessage processes an incoming message and returns a response.
// Commands:
//   - /start -> open a fresh session for this chat
//   - /stop  -> close the chat's session
//   - /status -> session summary
//   - anything else -> generate a persona reply
func (p *Processor) HandleMessage(ctx context.Context, msg IncomingMessage) (*OutgoingMessage, error) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return p.respond(msg, "Send me a message and I'll answer in persona."), nil
	}

	switch strings.ToLower(strings.Fields(text)[0]) {
	case "/start":
		return p.handleStart(ctx, msg)
	case "/stop":
		return p.handleStop(ctx, msg)
	case "/status":
		return p.handleStatus(msg), nil
	default:
		return p.handleChat(ctx, msg, text)
	}
}

func (p *Processor) handleStart(ctx context.Context, msg IncomingMessage) (*OutgoingMessage, error) {
	p.mu.Lock()
	old, had := p.chats[msg.ChatID]
	p.mu.Unlock()
	if had {
		p.sessions.Close(ctx, old)
	}

	sess, err := p.sessions.Open(ctx, p.userID)
	if err != nil {
		if errors.Is(err, session.ErrNoArtifact) {
			return p.respond(msg, fmt.Sprintf("No trained persona for %s yet. Run `personaclone train` first.", p.userID)), nil
		}
		return nil, err
	}

	p.mu.Lock()
	p.chats[msg.ChatID] = sess.ID
	p.mu.Unlock()

	return p.respond(msg, fmt.Sprintf("Chatting as %s now. Say something!", p.userID)), nil
}

func (p *Processor) handleStop(ctx context.Context, msg IncomingMessage) (*OutgoingMessage, error) {
	p.mu.Lock()
	id, ok := p.chats[msg.ChatID]
	delete(p.chats, msg.ChatID)
	p.mu.Unlock()

	if !ok {
		return p.respond(msg, "No active session in this chat."), nil
	}
	if err := p.sessions.Close(ctx, id); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		return nil, err
	}
	return p.respond(msg, "Session closed."), nil
}

func (p *Processor) handleStatus(msg IncomingMessage) *OutgoingMessage {
	p.mu.Lock()
	id, ok := p.chats[msg.ChatID]
	p.mu.Unlock()

	if !ok {
		return p.respond(msg, "No active session. Send /start to begin.")
	}
	return p.respond(msg, fmt.Sprintf("Session %s active, persona %s.", shortID(id), p.userID))
}

func (p *Processor) handleChat(ctx context.Context, msg IncomingMessage, text string) (*OutgoingMessage, error) {
	sessionID, err := p.sessionFor(ctx, msg.ChatID)
	if err != nil {
		if errors.Is(err, session.ErrNoArtifact) {
			return p.respond(msg, fmt.Sprintf("No trained persona for %s yet. Run `personaclone train` first.", p.userID)), nil
		}
		return nil, err
	}

	turn, err := p.sessions.Reply(ctx, sessionID, text)
	if err != nil {
		// An idle-reaped session gets transparently reopened once.
		if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, session.ErrSessionClosed) {
			p.forget(msg.ChatID, sessionID)
			if sessionID, err = p.sessionFor(ctx, msg.ChatID); err == nil {
				turn, err = p.sessions.Reply(ctx, sessionID, text)
			}
		}
		var timeout *session.TimeoutError
		if errors.As(err, &timeout) {
			return p.respond(msg, "That one took too long to write. Try again?"), nil
		}
		if err != nil {
			return nil, err
		}
	}

	return p.respond(msg, turn.Text), nil
}

// sessionFor returns the chat's session id, opening one if needed.
func (p *Processor) sessionFor(ctx context.Context, chatID int64) (string, error) {
	p.mu.Lock()
	id, ok := p.chats[chatID]
	p.mu.Unlock()
	if ok {
		return id, nil
	}

	sess, err := p.sessions.Open(ctx, p.userID)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.chats[chatID] = sess.ID
	p.mu.Unlock()
	return sess.ID, nil
}

func (p *Processor) forget(chatID int64, sessionID string) {
	p.mu.Lock()
	if p.chats[chatID] == sessionID {
		delete(p.chats, chatID)
	}
	p.mu.Unlock()
}

func (p *Processor) respond(msg IncomingMessage, text string) *OutgoingMessage {
	return &OutgoingMessage{
		ChatID:  msg.ChatID,
		Text:    text,
		ReplyTo: msg.MessageID,
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
