package sessions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zeroclaw-labs/zeroclaw/pkg/models"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = fmt.Errorf("session not found")

// MemoryStore is an in-memory Store. History per session is capped;
// appending past the cap evicts the oldest messages first.
type MemoryStore struct {
	mu         sync.RWMutex
	sessions   map[string]*models.Session
	byKey      map[string]string
	history    map[string][]*models.Message
	maxHistory int
}

// NewMemoryStore creates a store retaining at most maxHistory messages per
// session (<= 0 uses 50).
func NewMemoryStore(maxHistory int) *MemoryStore {
	if maxHistory <= 0 {
		maxHistory = 50
	}
	return &MemoryStore{
		sessions:   make(map[string]*models.Session),
		byKey:      make(map[string]string),
		history:    make(map[string][]*models.Message),
		maxHistory: maxHistory,
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) GetByKey(_ context.Context, key string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.sessions[id]
	return &cp, nil
}

func (s *MemoryStore) GetOrCreate(_ context.Context, channel models.ChannelType, senderID, chatID string) (*models.Session, error) {
	key := SessionKey(channel, senderID, chatID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byKey[key]; ok {
		cp := *s.sessions[id]
		return &cp, nil
	}

	now := time.Now()
	sess := &models.Session{
		ID:        uuid.NewString(),
		Channel:   channel,
		SenderID:  senderID,
		ChatID:    chatID,
		Key:       key,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[sess.ID] = sess
	s.byKey[key] = sess.ID
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context, opts ListOptions) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Session
	for _, sess := range s.sessions {
		if opts.Channel != "" && sess.Channel != opts.Channel {
			continue
		}
		cp := *sess
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, sessionID string, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}

	cp := *msg
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.SessionID == "" {
		cp.SessionID = sessionID
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}

	hist := append(s.history[sessionID], &cp)
	if over := len(hist) - s.maxHistory; over > 0 {
		hist = hist[over:]
	}
	s.history[sessionID] = hist
	sess.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) GetHistory(_ context.Context, sessionID string, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}
	hist := s.history[sessionID]
	if limit > 0 && len(hist) > limit {
		hist = hist[len(hist)-limit:]
	}
	out := make([]*models.Message, len(hist))
	for i, m := range hist {
		cp := *m
		out[i] = &cp
	}
	return out, nil
}
