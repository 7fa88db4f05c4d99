package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/jmehdipour/wadispatch/internal/model"
)

var (
	ErrNoHealthy = errors.New("no healthy providers")
	ErrNoAcquire = errors.New("provider not acquired")
)

// Dispatcher spreads SMS sends over the healthy providers in round-robin
// order, trying a few of them before giving up.
type Dispatcher struct {
	providers          []Provider
	roundRobinCounter  atomic.Uint64
	maxAttemptsNormal  int
	maxAttemptsExpress int
}

func NewDispatcher(provs []Provider, maxAttemptsExpress, maxAttemptsNormal int) *Dispatcher {
	if maxAttemptsExpress < 1 {
		maxAttemptsExpress = 3
	}

	if maxAttemptsNormal < 1 {
		maxAttemptsNormal = 2
	}

	return &Dispatcher{providers: provs, maxAttemptsExpress: maxAttemptsExpress, maxAttemptsNormal: maxAttemptsNormal}
}

func (d *Dispatcher) selectProvider() (Provider, error) {
	healthy := make([]Provider, 0, len(d.providers))
	for _, p := range d.providers {
		if p.Ready() {
			healthy = append(healthy, p)
		}
	}

	if len(healthy) == 0 {
		return nil, ErrNoHealthy
	}

	x := d.roundRobinCounter.Add(1)
	idx := int((x - 1) % uint64(len(healthy)))

	return healthy[idx], nil
}

func (d *Dispatcher) tryOnce(ctx context.Context, sms model.SMS, lane model.Lane) Result {
	p, err := d.selectProvider()
	if err != nil {
		return transportFailure(err)
	}

	if !p.Acquire() {
		return transportFailure(ErrNoAcquire)
	}

	return p.Send(ctx, sms, lane)
}

// Send returns the first successful or remote-rejected result; only
// transport failures move on to another provider.
func (d *Dispatcher) Send(ctx context.Context, sms model.SMS, lane model.Lane) Result {
	attempts := d.maxAttemptsNormal
	if lane == model.LaneExpress {
		attempts = d.maxAttemptsExpress
	}

	var last Result
	for i := 0; i < attempts; i++ {
		last = d.tryOnce(ctx, sms, lane)
		if last.Kind != KindTransport {
			return last
		}

		if ctx.Err() != nil {
			break
		}
	}

	return last
}
