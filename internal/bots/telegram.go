package bots

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log"
	"net/http"
)

// TelegramHandler handles incoming Telegram webhook updates. Replies go
// back in the webhook response body, so the bot needs no outbound API
// client for plain text messages.
type TelegramHandler struct {
	handler     MessageHandler
	secretToken string
}

// NewTelegramHandler creates a new Telegram webhook handler. The secret
// token must match the one registered with setWebhook; leave empty to
// skip verification (local testing only).
func NewTelegramHandler(handler MessageHandler, secretToken string) *TelegramHandler {
	return &TelegramHandler{
		handler:     handler,
		secretToken: secretToken,
	}
}

// telegramUpdate is the top-level Telegram webhook payload.
type telegramUpdate struct {
	UpdateID int64            `json:"update_id"`
	Message  *telegramMessage `json:"message"`
}

type telegramMessage struct {
	MessageID int64         `json:"message_id"`
	From      *telegramUser `json:"from"`
	Chat      telegramChat  `json:"chat"`
	Date      int64         `json:"date"`
	Text      string        `json:"text"`
}

type telegramUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

type telegramChat struct {
	ID int64 `json:"id"`
}

// telegramReply is a sendMessage returned directly in the webhook
// response.
type telegramReply struct {
	Method           string `json:"method"`
	ChatID           int64  `json:"chat_id"`
	Text             string `json:"text"`
	ReplyToMessageID int64  `json:"reply_to_message_id,omitempty"`
}

// HandleUpdate handles an incoming Telegram update (HTTP POST).
func (h *TelegramHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	if h.secretToken != "" {
		got := r.Header.Get("X-Telegram-Bot-Api-Secret-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secretToken)) != 1 {
			http.Error(w, "invalid secret token", http.StatusUnauthorized)
			return
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var update telegramUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	// Telegram retries on non-2xx, so anything we can't act on gets a
	// plain 200.
	m := update.Message
	if m == nil || m.Text == "" || (m.From != nil && m.From.IsBot) {
		w.WriteHeader(http.StatusOK)
		return
	}

	msg := IncomingMessage{
		Platform:  PlatformTelegram,
		ChatID:    m.Chat.ID,
		MessageID: m.MessageID,
		Text:      m.Text,
		Timestamp: m.Date,
	}
	if m.From != nil {
		msg.UserID = m.From.ID
		msg.UserName = m.From.Username
	}

	resp, err := h.handler.HandleMessage(r.Context(), msg)
	if err != nil {
		log.Printf("bots: telegram update %d: %v", update.UpdateID, err)
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(telegramReply{
		Method:           "sendMessage",
		ChatID:           resp.ChatID,
		Text:             resp.Text,
		ReplyToMessageID: resp.ReplyTo,
	})
}
