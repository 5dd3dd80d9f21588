package chat

import (
	"context"
	"encoding/json"
	"net/http"

	"floboats-messaging/internal/apperr"
	myMiddleware "floboats-messaging/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // TODO: restrict to the marketplace origins once they are in config.
	},
}

// fallbackView is where a client should go when a conversation can't be shown.
const fallbackView = "/messages"

type Handler struct {
	svc *Service
	hub *Hub
	log *zap.SugaredLogger
	// base outlives individual requests; websocket sessions derive from it.
	base context.Context
}

func NewHandler(base context.Context, svc *Service, hub *Hub, log *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, hub: hub, log: log, base: base}
}

type errorResponse struct {
	Error    string      `json:"error"`
	Code     apperr.Code `json:"code"`
	Redirect string      `json:"redirect,omitempty"`
}

type SendRequest struct {
	ConversationID string `json:"conversation_id"`
	ListingID      string `json:"listing_id"`
	Message        string `json:"message"`
}

type SendResponse struct {
	ConversationID string             `json:"conversation_id"`
	Message        *MessageWithSender `json:"message"`
}

func statusOf(code apperr.Code) int {
	switch code {
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeForbidden:
		return http.StatusForbidden
	case apperr.CodeSelfMessagingDenied, apperr.CodeConflict:
		return http.StatusConflict
	case apperr.CodeValidation:
		return http.StatusBadRequest
	case apperr.CodeUnauthenticated:
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	writeJSON(w, statusOf(code), errorResponse{Error: apperr.MessageOf(err), Code: code})
}

func requester(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := myMiddleware.UserID(r.Context())
	if userID == "" {
		writeError(w, apperr.ErrUnauthenticated)
		return "", false
	}
	return userID, true
}

// ListConversations serves the inbox.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := requester(w, r)
	if !ok {
		return
	}
	filter, err := ParseFilter(r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, err)
		return
	}

	summaries, err := h.svc.ListConversations(r.Context(), userID, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

// ResolveConversation answers 204 when the requester has not written about the
// listing yet.
func (h *Handler) ResolveConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requester(w, r)
	if !ok {
		return
	}

	ref, found, err := h.svc.ResolveConversation(r.Context(), chi.URLParam(r, "listingID"), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

func (h *Handler) LoadFeed(w http.ResponseWriter, r *http.Request) {
	userID, ok := requester(w, r)
	if !ok {
		return
	}

	msgs, err := h.svc.LoadFeed(r.Context(), chi.URLParam(r, "conversationID"), userID)
	if err != nil {
		code := apperr.CodeOf(err)
		resp := errorResponse{Error: apperr.MessageOf(err), Code: code}
		if code == apperr.CodeNotFound || code == apperr.CodeForbidden {
			resp.Redirect = fallbackView
		}
		writeJSON(w, statusOf(code), resp)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requester(w, r)
	if !ok {
		return
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid request body"))
		return
	}

	msg, err := h.svc.SendMessage(r.Context(), SendCommand{
		ConversationID: req.ConversationID,
		ListingID:      req.ListingID,
		SenderID:       userID,
		Text:           req.Message,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, SendResponse{ConversationID: msg.ConversationID, Message: msg})
}

func (h *Handler) ArchiveConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requester(w, r)
	if !ok {
		return
	}
	if err := h.svc.ArchiveConversation(r.Context(), chi.URLParam(r, "conversationID"), userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ServeWs upgrades the request into a live session. Views are opened over the
// socket with "open" frames.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID := myMiddleware.UserID(r.Context())
	username := myMiddleware.Username(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("websocket upgrade failed", "err", err)
		return
	}

	client := NewClient(h.base, h.hub, conn, h.svc, userID, username, h.log)
	if !h.hub.register(client) {
		client.cancel()
		conn.Close()
		return
	}

	h.log.Debugw("websocket session opened", "user_id", userID, "username", username, "sessions", h.hub.Clients())

	go client.WritePump()
	go client.ReadPump()
}
