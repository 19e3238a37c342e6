package httpserver

import (
	"encoding/json"
	"net/http"

	"winechat/internal/domain"
	"winechat/internal/service"
)

type messageCreateRequest struct {
	ConversationID int64              `json:"conversationId"`
	RecipientID    int64              `json:"recipientId"`
	Content        string             `json:"content"`
	MessageType    domain.MessageType `json:"messageType"`
	OrderID        *int64             `json:"orderId"`
}

type unreadCountResponse struct {
	Count int `json:"count"`
}

// @Summary      Send message
// @Description  Send to an existing conversation or directly to a recipient
// @Tags         messages
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        input body messageCreateRequest true "Message"
// @Success      201  {object}  domain.Message
// @Failure      400  {object}  errorResponse
// @Failure      403  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Router       /messages [post]
func handleSendMessage(messaging *service.Messaging) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req messageCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}

		msg, err := messaging.SendMessage(r.Context(), CurrentUser(r).ID, service.SendMessageInput{
			ConversationID: req.ConversationID,
			RecipientID:    req.RecipientID,
			Content:        req.Content,
			MessageType:    req.MessageType,
			OrderID:        req.OrderID,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

// @Summary      Mark message read
// @Tags         messages
// @Security     BearerAuth
// @Produce      json
// @Param        messageID path int true "Message ID"
// @Success      200  {object}  domain.Message
// @Failure      400  {object}  errorResponse
// @Failure      403  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Router       /messages/{messageID}/read [post]
func handleMarkMessageRead(messaging *service.Messaging) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "messageID")
		if !ok {
			return
		}
		msg, err := messaging.MarkMessageRead(r.Context(), CurrentUser(r).ID, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

// @Summary      Delete message
// @Description  Only the sender may delete a message
// @Tags         messages
// @Security     BearerAuth
// @Param        messageID path int true "Message ID"
// @Success      204
// @Failure      403  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Router       /messages/{messageID} [delete]
func handleDeleteMessage(messaging *service.Messaging) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "messageID")
		if !ok {
			return
		}
		if err := messaging.DeleteMessage(r.Context(), CurrentUser(r).ID, id); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// @Summary      Unread count
// @Description  Messages addressed to the current user that are still unread
// @Tags         messages
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  unreadCountResponse
// @Router       /messages/unread-count [get]
func handleUnreadCount(messaging *service.Messaging) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := messaging.GetUnreadCount(r.Context(), CurrentUser(r).ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, unreadCountResponse{Count: count})
	}
}
