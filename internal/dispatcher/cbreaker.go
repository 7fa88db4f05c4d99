package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jmehdipour/wadispatch/internal/payload"
)

var ErrBreakerOpen = errors.New("circuit breaker open")

type state int

const (
	closed state = iota
	open
	halfOpen
)

func (s state) String() string {
	switch s {
	case open:
		return "open"
	case halfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// MicroBreaker opens after failThreshold consecutive failures and lets a
// single probe through once openFor has elapsed.
type MicroBreaker struct {
	mu               sync.Mutex
	st               state
	consecutiveFails int
	failThreshold    int
	openFor          time.Duration
	nextTryAt        time.Time
	probeInFlight    bool
	now              func() time.Time
}

func NewMicroBreaker(threshold int, openFor time.Duration) *MicroBreaker {
	if threshold <= 0 {
		threshold = 5
	}

	if openFor <= 0 {
		openFor = 30 * time.Second
	}

	return &MicroBreaker{failThreshold: threshold, openFor: openFor, now: time.Now}
}

func (b *MicroBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st.String()
}

func (b *MicroBreaker) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.st {
	case open:
		return b.now().After(b.nextTryAt) && !b.probeInFlight
	case halfOpen:
		return !b.probeInFlight
	default:
		return true
	}
}

func (b *MicroBreaker) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case open:
		if b.now().After(b.nextTryAt) && !b.probeInFlight {
			b.st = halfOpen
			b.probeInFlight = true
			return true
		}
		return false
	case halfOpen:
		if !b.probeInFlight {
			b.probeInFlight = true
			return true
		}
		return false
	default:
		return true
	}
}

func (b *MicroBreaker) OnSuccess() {
	b.mu.Lock()
	b.consecutiveFails = 0
	b.st = closed
	b.probeInFlight = false
	b.mu.Unlock()
}

func (b *MicroBreaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st == halfOpen {
		b.st = open
		b.nextTryAt = b.now().Add(b.openFor)
		b.probeInFlight = false
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.failThreshold {
		b.st = open
		b.nextTryAt = b.now().Add(b.openFor)
	}
}

// WhatsAppSender is what the worker needs from a WhatsApp client.
type WhatsAppSender interface {
	Send(ctx context.Context, p payload.Payload) Result
}

// GuardedSender short-circuits sends while the breaker is open. Only
// transport failures count against the breaker; a structured API error means
// the remote side is up.
type GuardedSender struct {
	next WhatsAppSender
	br   *MicroBreaker
}

func NewGuardedSender(next WhatsAppSender, br *MicroBreaker) *GuardedSender {
	return &GuardedSender{next: next, br: br}
}

func (g *GuardedSender) Send(ctx context.Context, p payload.Payload) Result {
	if !g.br.TryAcquire() {
		return transportFailure(ErrBreakerOpen)
	}

	res := g.next.Send(ctx, p)
	if res.Kind == KindTransport {
		g.br.OnFailure()
	} else {
		g.br.OnSuccess()
	}

	return res
}
