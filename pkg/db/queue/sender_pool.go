package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/erain9/orderdesk/pkg/messaging"
	"github.com/rs/zerolog/log"
)

// DefaultPoolSize is the number of producers a SenderPool keeps
const DefaultPoolSize = 8

// ErrPoolClosed is returned by a SenderPool after Close
var ErrPoolClosed = errors.New("sender pool closed")

// SenderFactory creates a pooled sender
type SenderFactory func() (messaging.MessageSender, error)

// SenderPool spreads sends over a fixed set of senders. A sender whose send
// fails is closed and replaced lazily by the factory.
type SenderPool struct {
	pool    chan messaging.MessageSender
	factory SenderFactory
	mu      sync.RWMutex
	closed  bool
}

// NewSenderPool pre-populates a pool with size senders. At least one sender
// must be created.
func NewSenderPool(size int, factory SenderFactory) (*SenderPool, error) {
	if size < 1 {
		size = DefaultPoolSize
	}
	p := &SenderPool{pool: make(chan messaging.MessageSender, size), factory: factory}

	var firstErr error
	for i := 0; i < size; i++ {
		sender, err := factory()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			log.Warn().Err(err).Msg("Error creating pooled sender")
			continue
		}
		p.pool <- sender
	}
	if len(p.pool) == 0 {
		return nil, firstErr
	}
	return p, nil
}

// get takes a sender from the pool, creating one when the pool has run dry.
func (p *SenderPool) get(ctx context.Context) (messaging.MessageSender, error) {
	select {
	case sender := <-p.pool:
		return sender, nil
	default:
	}
	if sender, err := p.factory(); err == nil {
		return sender, nil
	}
	select {
	case sender := <-p.pool:
		return sender, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// put returns a sender to the pool, closing it if the pool is full
func (p *SenderPool) put(sender messaging.MessageSender) {
	select {
	case p.pool <- sender:
	default:
		_ = sender.Close()
	}
}

// SendMatchMessage sends msg with a pooled sender
func (p *SenderPool) SendMatchMessage(ctx context.Context, msg *messaging.MatchMessage) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	sender, err := p.get(ctx)
	if err != nil {
		return err
	}
	if err := sender.SendMatchMessage(ctx, msg); err != nil {
		// don't return a possibly broken connection to the pool
		_ = sender.Close()
		return err
	}
	p.put(sender)
	return nil
}

// Close closes every pooled sender
func (p *SenderPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for {
		select {
		case sender := <-p.pool:
			if err := sender.Close(); err != nil {
				errs = append(errs, err)
			}
		default:
			return errors.Join(errs...)
		}
	}
}

var (
	_ messaging.MessageSender = (*SenderPool)(nil)
	_ messaging.MessageSender = (*QueueMessageSender)(nil)
)
