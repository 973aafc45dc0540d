package control

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const updateBuffer = 64

// Poller drives PollAndSync for every attached address on a fixed interval and
// hands the resulting updates to one consumer through a channel.
type Poller struct {
	ctrl     *Controller
	interval time.Duration
	updates  chan Update
	logger   zerolog.Logger
}

func NewPoller(ctrl *Controller, interval time.Duration, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Poller{
		ctrl:     ctrl,
		interval: interval,
		updates:  make(chan Update, updateBuffer),
		logger:   logger.With().Str("component", "poller").Logger(),
	}
}

// Updates is closed when Run returns.
func (p *Poller) Updates() <-chan Update {
	return p.updates
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	defer close(p.updates)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info().Dur("interval", p.interval).Msg("poller started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("poller stopped")
			return
		case <-ticker.C:
			if !p.PollOnce(ctx) {
				return
			}
		}
	}
}

// PollOnce polls every attached address once. It returns false if ctx was
// cancelled while an update was waiting for the consumer.
func (p *Poller) PollOnce(ctx context.Context) bool {
	for _, address := range p.ctrl.Addresses() {
		// I/O failures are logged by the controller and retried next tick;
		// storage failures travel in Update.Err
		upd, _ := p.ctrl.PollAndSync(address)
		if upd == nil {
			continue
		}

		select {
		case p.updates <- *upd:
		case <-ctx.Done():
			return false
		}
	}
	return true
}
