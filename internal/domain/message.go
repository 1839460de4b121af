package domain

import "time"

type ChatMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	SenderID  string    `json:"senderId"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
