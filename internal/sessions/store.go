// Package sessions persists conversation threads keyed by channel, sender,
// and chat.
package sessions

import (
	"context"

	"github.com/zeroclaw-labs/zeroclaw/pkg/models"
)

// Store is the interface for session persistence.
type Store interface {
	Get(ctx context.Context, id string) (*models.Session, error)
	GetByKey(ctx context.Context, key string) (*models.Session, error)
	GetOrCreate(ctx context.Context, channel models.ChannelType, senderID, chatID string) (*models.Session, error)
	List(ctx context.Context, opts ListOptions) ([]*models.Session, error)

	// AppendMessage appends to a session's history, evicting the oldest
	// messages past the store's retention cap.
	AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error
	GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)
}

// ListOptions configures session listing.
type ListOptions struct {
	Channel models.ChannelType
	Limit   int
	Offset  int
}

// SessionKey builds the unique key for one sender+chat thread.
func SessionKey(channel models.ChannelType, senderID, chatID string) string {
	return string(channel) + ":" + senderID + ":" + chatID
}
