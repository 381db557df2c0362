package autonomy

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PendingRequest is an ephemeral approval gate for one tool call outside
// the CLI surface. It can only be confirmed by the same sender in the
// same chat that created it, and self-expires after its TTL.
type PendingRequest struct {
	ID        string    `json:"id"`
	Tool      string    `json:"tool"`
	SenderID  string    `json:"sender_id"`
	ChatID    string    `json:"chat_id"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the request's TTL has passed.
func (r *PendingRequest) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// pendingRequests holds in-memory pending approvals for the process
// lifetime. Expired and decided requests are garbage-collected.
type pendingRequests struct {
	mu       sync.Mutex
	requests map[string]*PendingRequest
	ttl      time.Duration
	now      func() time.Time
}

func newPendingRequests(ttl time.Duration, now func() time.Time) *pendingRequests {
	if now == nil {
		now = time.Now
	}
	return &pendingRequests{
		requests: make(map[string]*PendingRequest),
		ttl:      ttl,
		now:      now,
	}
}

// create registers a pending request scoped to (sender, chat).
func (p *pendingRequests) create(tool, senderID, chatID, reason string) *PendingRequest {
	now := p.now()
	req := &PendingRequest{
		ID:        uuid.NewString()[:8],
		Tool:      tool,
		SenderID:  senderID,
		ChatID:    chatID,
		Reason:    reason,
		CreatedAt: now,
		ExpiresAt: now.Add(p.ttl),
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gcLocked(now)
	p.requests[req.ID] = req
	return req
}

// take removes and returns the request when the id exists and the caller
// matches the creating (sender, chat). Returns expired=true when the
// request existed but had passed its TTL.
func (p *pendingRequests) take(id, senderID, chatID string) (req *PendingRequest, expired bool) {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()

	// Look the id up before collecting garbage so an expired request is
	// still distinguishable from one that never existed.
	r, ok := p.requests[id]
	p.gcLocked(now)
	if !ok {
		return nil, false
	}
	if r.SenderID != senderID || r.ChatID != chatID {
		// Scoping violation: not the creator. Leave the request pending.
		return nil, false
	}
	if r.Expired(now) {
		return nil, true
	}
	delete(p.requests, id)
	return r, false
}

// list returns the live pending requests for a (sender, chat).
func (p *pendingRequests) list(senderID, chatID string) []*PendingRequest {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gcLocked(now)

	var out []*PendingRequest
	for _, r := range p.requests {
		if r.SenderID == senderID && r.ChatID == chatID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (p *pendingRequests) gcLocked(now time.Time) {
	for id, r := range p.requests {
		if r.Expired(now) {
			delete(p.requests, id)
		}
	}
}
