package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/avolkov/personaclone/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// chatRequest is the incoming WebSocket message format. An empty
// session_id opens a fresh session with the first message.
type chatRequest struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

// chatResponse is the outgoing WebSocket message format.
type chatResponse struct {
	Type            string  `json:"type"` // "response" or "error"
	SessionID       string  `json:"session_id"`
	Content         string  `json:"content"`
	StyleSimilarity float64 `json:"style_similarity,omitempty"`
	DriftWarning    bool    `json:"drift_warning,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("server: websocket read: %v", err)
			}
			return
		}

		var req chatRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			s.sendChatError(conn, "", "invalid message format")
			continue
		}
		if req.Content == "" {
			s.sendChatError(conn, req.SessionID, "content is required")
			continue
		}

		sessionID := req.SessionID
		if sessionID == "" {
			sess, err := s.manager.Open(r.Context(), s.cfg.TargetUser)
			if err != nil {
				if errors.Is(err, session.ErrNoArtifact) {
					s.sendChatError(conn, "", "no trained persona artifact; run train first")
				} else {
					s.sendChatError(conn, "", "failed to open session: "+err.Error())
				}
				continue
			}
			sessionID = sess.ID
		}

		turn, err := s.manager.Reply(r.Context(), sessionID, req.Content)
		if err != nil {
			s.sendChatError(conn, sessionID, err.Error())
			continue
		}

		s.sendChatResponse(conn, chatResponse{
			Type:            "response",
			SessionID:       sessionID,
			Content:         turn.Text,
			StyleSimilarity: turn.StyleSimilarity,
			DriftWarning:    turn.DriftWarning,
		})
	}
}

func (s *Server) sendChatResponse(conn *websocket.Conn, resp chatResponse) {
	if err := conn.WriteJSON(resp); err != nil {
		log.Printf("server: websocket write: %v", err)
	}
}

func (s *Server) sendChatError(conn *websocket.Conn, sessionID, message string) {
	if err := conn.WriteJSON(chatResponse{
		Type:      "error",
		SessionID: sessionID,
		Content:   message,
	}); err != nil {
		log.Printf("server: websocket write error: %v", err)
	}
}
