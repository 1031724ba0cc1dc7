package trades

import (
	"context"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"traderobot/src/clock"
	"traderobot/src/events"
	"traderobot/src/model"
)

// Store saves trade snapshots. Implementations upsert by trade ID.
type Store interface {
	SaveTrades(ctx context.Context, trades []model.Trade) error
}

// Persister batches trade mutations and writes the latest copy of each dirty trade at
// most one debounce interval after it changed. It never blocks the publisher.
type Persister struct {
	store    Store
	clock    clock.Clock
	debounce time.Duration
	log      *logger.Entry

	mu      sync.Mutex
	dirty   map[string]model.Trade
	timer   clock.Timer
	flushMu sync.Mutex
}

func NewPersister(store Store, clk clock.Clock, debounce time.Duration, log *logger.Entry) *Persister {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	if clk == nil {
		clk = clock.Real()
	}
	if debounce <= 0 {
		debounce = time.Second
	}
	return &Persister{
		store:    store,
		clock:    clk,
		debounce: debounce,
		log:      log,
		dirty:    map[string]model.Trade{},
	}
}

func (p *Persister) Handle(e events.Event) {
	tm, ok := e.(events.TradeMutated)
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dirty[tm.Trade.ID] = tm.Trade
	if p.timer == nil {
		p.timer = p.clock.AfterFunc(p.debounce, func() {
			_ = p.Flush(context.Background())
		})
	}
}

// Flush writes every pending trade now. Failed batches are merged back so the next
// flush retries them unless a newer copy arrived in the meantime.
func (p *Persister) Flush(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	batch := make([]model.Trade, 0, len(p.dirty))
	for _, t := range p.dirty {
		batch = append(batch, t)
	}
	p.dirty = map[string]model.Trade{}
	p.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := p.store.SaveTrades(ctx, batch); err != nil {
		p.log.WithField("trades", len(batch)).WithError(err).Error("failed to persist trades")
		p.mu.Lock()
		for _, t := range batch {
			if _, newer := p.dirty[t.ID]; !newer {
				p.dirty[t.ID] = t
			}
		}
		if p.timer == nil {
			p.timer = p.clock.AfterFunc(p.debounce, func() {
				_ = p.Flush(context.Background())
			})
		}
		p.mu.Unlock()
		return err
	}
	p.log.WithField("trades", len(batch)).Debug("trades persisted")
	return nil
}
