package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"matchtalk/internal/domain"
	"matchtalk/internal/service"
)

type messageCreateRequest struct {
	Content       string  `json:"content"`
	MessageType   string  `json:"message_type"`
	AttachmentURL *string `json:"attachment_url"`
}

type messagePageResponse struct {
	Messages   []*domain.Message `json:"messages"`
	NextCursor int64             `json:"next_cursor"`
}

// handleCreateMessage is the synchronous send fallback. It shares the exact
// send path with the realtime channel. There is no built-in deduplication:
// a caller that retries after a timeout may create a duplicate unless it
// supplies its own idempotency/correlation key in the content envelope.
func handleCreateMessage(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		convID, err := conversationID(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid conversation id"})
			return
		}
		var req messageCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		msg, err := msgSvc.Send(r.Context(), service.SendInput{
			ConversationID: convID,
			Content:        req.Content,
			MessageType:    domain.MessageType(req.MessageType),
			AttachmentURL:  req.AttachmentURL,
		}, currentUser.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

// handleListMessages pages through history newest first. Pass the returned
// next_cursor as ?before= to load older messages; 0 means the log is
// exhausted.
func handleListMessages(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		convID, err := conversationID(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid conversation id"})
			return
		}
		before, _ := strconv.ParseInt(r.URL.Query().Get("before"), 10, 64)
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		msgs, next, err := msgSvc.History(r.Context(), convID, currentUser.ID, before, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, messagePageResponse{Messages: msgs, NextCursor: next})
	}
}

func handleMarkConversationRead(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		convID, err := conversationID(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid conversation id"})
			return
		}
		count, err := msgSvc.MarkRead(r.Context(), convID, currentUser.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"read_count": count})
	}
}
