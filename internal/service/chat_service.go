package service

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cwrk-planet/meeting-service/internal/domain"

	"github.com/google/uuid"
)

type ChatService struct {
	maxLen int
	now    func() time.Time
}

func NewChatService(maxLen int) *ChatService {
	if maxLen <= 0 {
		maxLen = 4000
	}
	return &ChatService{maxLen: maxLen, now: time.Now}
}

// Compose validates text and stamps a server-side id and timestamp.
func (s *ChatService) Compose(sender domain.Participant, text string) (domain.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ChatMessage{}, domain.ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > s.maxLen {
		return domain.ChatMessage{}, domain.ErrMessageTooLong
	}

	return domain.ChatMessage{
		ID:        uuid.NewString(),
		Sender:    sender.Name,
		SenderID:  sender.ID,
		Message:   text,
		Timestamp: s.now().UTC(),
	}, nil
}
