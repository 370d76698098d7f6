package model

import (
	"io"
)

// SendMessageRequest is a direct or group send.
type SendMessageRequest struct {
	Content  string `json:"content"`
	ChatType Kind   `json:"chat_type"`
	ChatID   string `json:"chat_id"`
	ReplyTo  string `json:"reply_to,omitempty"`
}

// SendMessageResponse is the confirmed record of a send.
type SendMessageResponse struct {
	Message *Message `json:"message"`
	Success bool     `json:"success"`
}

// File is an attachment staged by the user.
type File struct {
	Name string
	Body io.Reader
}

// AssistantRequest is a message to the AI assistant.
type AssistantRequest struct {
	Text  string
	Scope string
	File  *File
}

// AssistantReply is the service answer to an AssistantRequest.
type AssistantReply struct {
	Reply           *Message `json:"reply"`
	UserMessage     *Message `json:"user_message,omitempty"`
	CommandExecuted bool     `json:"command_executed"`
}

// UploadRequest uploads a file out of band for a conversation.
type UploadRequest struct {
	Key  ConversationKey
	File File
}

// ListMessagesResponse is a history page.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	Count    int       `json:"count"`
	HasMore  bool      `json:"has_more"`
}

// ListConversationsResponse is the directory listing.
type ListConversationsResponse struct {
	Chats []Conversation `json:"chats"`
	Count int            `json:"count"`
}
