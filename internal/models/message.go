package models

import "time"

// Message is a single chat line. Messages are immutable once created.
// Timestamp is Unix milliseconds, matching the remote document format.
type Message struct {
	ID            string `json:"id,omitempty"`
	From          string `json:"from"`
	To            string `json:"to"`
	Text          string `json:"text"`
	Timestamp     int64  `json:"timestamp"`
	SenderName    string `json:"senderName,omitempty"`
	SenderPicture string `json:"senderPicture,omitempty"`
}

// SentAt returns the timestamp as a time.Time.
func (m Message) SentAt() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Conversations maps a conversation key to its ordered messages. It is
// the unit of cloud synchronization and the remote document body.
type Conversations map[string][]Message
