package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"winechat/internal/domain"
	"winechat/internal/service"
)

type conversationCreateRequest struct {
	RecipientID int64              `json:"recipientId"`
	Content     string             `json:"content"`
	MessageType domain.MessageType `json:"messageType"`
	OrderID     *int64             `json:"orderId"`
}

// pathID parses a positive integer URL parameter, answering 400 otherwise.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeBadRequest(w, "invalid "+name)
		return 0, false
	}
	return id, true
}

// queryInt reads an optional integer query parameter; absent means 0.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// @Summary      Start a conversation
// @Description  Opens the direct conversation with the recipient, or reuses the existing one, and sends the first message
// @Tags         conversations
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        input body conversationCreateRequest true "Recipient and first message"
// @Success      201  {object}  service.CreateConversationResult
// @Success      200  {object}  service.CreateConversationResult
// @Failure      400  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Router       /conversations [post]
func handleCreateConversation(messaging *service.Messaging) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req conversationCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}

		res, err := messaging.CreateConversation(r.Context(), CurrentUser(r).ID, service.CreateConversationInput{
			RecipientID: req.RecipientID,
			Content:     req.Content,
			MessageType: req.MessageType,
			OrderID:     req.OrderID,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		status := http.StatusOK
		if res.Created {
			status = http.StatusCreated
		}
		writeJSON(w, status, res)
	}
}

// @Summary      List conversations
// @Description  Conversations of the current user, most recently active first
// @Tags         conversations
// @Security     BearerAuth
// @Produce      json
// @Success      200  {array}   domain.ConversationSummary
// @Router       /conversations [get]
func handleListConversations(messaging *service.Messaging) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convs, err := messaging.ListConversations(r.Context(), CurrentUser(r).ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, convs)
	}
}

// @Summary      Conversation history
// @Description  One page of messages, oldest first. Reading history marks the caller's unread messages as read.
// @Tags         conversations
// @Security     BearerAuth
// @Produce      json
// @Param        conversationID path int true "Conversation ID"
// @Param        page query int false "Page, starting at 1"
// @Param        pageSize query int false "Messages per page"
// @Success      200  {object}  service.MessagePage
// @Failure      403  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Router       /conversations/{conversationID}/messages [get]
func handleListMessages(messaging *service.Messaging) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convID, ok := pathID(w, r, "conversationID")
		if !ok {
			return
		}
		page, err := queryInt(r, "page")
		if err != nil {
			writeBadRequest(w, "invalid page")
			return
		}
		pageSize, err := queryInt(r, "pageSize")
		if err != nil {
			writeBadRequest(w, "invalid pageSize")
			return
		}

		res, err := messaging.GetConversationMessages(r.Context(), CurrentUser(r).ID, convID, page, pageSize)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
