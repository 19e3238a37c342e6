package ws

import (
	"encoding/json"

	"winechat/internal/domain"
)

// Commands accepted from clients.
const (
	CmdSendMessage        = "send-message"
	CmdCreateConversation = "create-conversation"
	CmdJoinConversation   = "join-conversation"
	CmdLeaveConversation  = "leave-conversation"
	CmdMarkMessageRead    = "mark-message-read"
	CmdGetUnreadCount     = "get-unread-count"
	CmdGetMessages        = "get-messages"
	CmdListConversations  = "list-conversations"
	CmdDeleteMessage      = "delete-message"
)

const replyType = "reply"

// inboundFrame is a client command. ID is echoed back verbatim so clients may
// use strings or numbers.
type inboundFrame struct {
	ID   json.RawMessage `json:"id,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// eventFrame is a server push.
type eventFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// replyFrame answers exactly one inboundFrame, with either Data or Error set.
type replyFrame struct {
	Type    string          `json:"type"`
	ID      json.RawMessage `json:"id,omitempty"`
	Command string          `json:"command"`
	Data    any             `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
}

type sendMessageData struct {
	ConversationID int64              `json:"conversationId"`
	RecipientID    int64              `json:"recipientId"`
	Content        string             `json:"content"`
	MessageType    domain.MessageType `json:"messageType"`
	OrderID        *int64             `json:"orderId"`
}

type createConversationData struct {
	RecipientID int64              `json:"recipientId"`
	Content     string             `json:"content"`
	MessageType domain.MessageType `json:"messageType"`
	OrderID     *int64             `json:"orderId"`
}

type conversationRef struct {
	ConversationID int64 `json:"conversationId"`
}

type messageRef struct {
	MessageID int64 `json:"messageId"`
}

type getMessagesData struct {
	ConversationID int64 `json:"conversationId"`
	Page           int   `json:"page"`
	PageSize       int   `json:"pageSize"`
}

type roomMembership struct {
	ConversationID int64 `json:"conversationId"`
	Joined         bool  `json:"joined"`
}

type deletedMessage struct {
	MessageID int64 `json:"messageId"`
	Deleted   bool  `json:"deleted"`
}
