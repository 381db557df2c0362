// Package loopback provides an in-process channel adapter. The CLI
// surface uses it for interactive sessions; tests use it to drive the
// supervisor without a network.
package loopback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zeroclaw-labs/zeroclaw/internal/channels"
	"github.com/zeroclaw-labs/zeroclaw/pkg/models"
)

// Adapter is a channels.Adapter whose both ends live in this process.
// Inject delivers inbound messages; Replies exposes outbound ones.
type Adapter struct {
	mu       sync.Mutex
	started  bool
	inbound  chan *models.Message
	outbound chan *models.Message
	cancel   context.CancelFunc
}

// New creates a loopback adapter.
func New() *Adapter {
	return &Adapter{
		outbound: make(chan *models.Message, 64),
	}
}

func (a *Adapter) Type() models.ChannelType { return models.ChannelLoopback }

func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return errors.New("loopback: already started")
	}
	ctx, a.cancel = context.WithCancel(ctx)
	a.inbound = make(chan *models.Message, 64)
	a.started = true

	inbound := a.inbound
	go func() {
		<-ctx.Done()
		a.mu.Lock()
		a.started = false
		a.mu.Unlock()
		close(inbound)
	}()
	return nil
}

func (a *Adapter) Stop(context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (a *Adapter) Status() channels.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return channels.Status{Connected: a.started}
}

func (a *Adapter) Messages() <-chan *models.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inbound
}

// Send captures an outbound message on the Replies channel.
func (a *Adapter) Send(ctx context.Context, msg *models.Message) error {
	select {
	case a.outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Replies exposes outbound messages for the in-process consumer.
func (a *Adapter) Replies() <-chan *models.Message { return a.outbound }

// Inject delivers a user message as if it arrived from the wire.
func (a *Adapter) Inject(ctx context.Context, senderID, chatID, text string) error {
	a.mu.Lock()
	inbound := a.inbound
	started := a.started
	a.mu.Unlock()
	if !started {
		return errors.New("loopback: not started")
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		Channel:   models.ChannelLoopback,
		SenderID:  senderID,
		ChatID:    chatID,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   text,
		CreatedAt: time.Now(),
	}
	select {
	case inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
