package trades

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"traderobot/src/apperr"
	"traderobot/src/clock"
	"traderobot/src/events"
	"traderobot/src/exception"
	"traderobot/src/keylock"
	"traderobot/src/metrics"
	"traderobot/src/model"
	"traderobot/src/tp_sl"
)

// OrderPlacer submits market orders to the venue.
type OrderPlacer interface {
	PlaceMarketOrder(ctx context.Context, order model.MarketOrder) (string, error)
}

// Interest is the multiplexer side used by trades to hold their token subscription.
type Interest interface {
	AddInterest(token, exchange, requester string) error
	RemoveInterest(token, requester string) error
}

// closeState is the per-token in-flight close. orderID stays empty until the venue acknowledges.
type closeState struct {
	tradeID string
	orderID string
}

// Registry is the single owner of trade state. Every mutation for a token runs under
// that token's lock; side effects that reach other components (interest changes, order
// placement) run after the lock is released.
type Registry struct {
	cfg      Config
	policy   tp_sl.Policy
	orders   OrderPlacer
	interest Interest
	pub      events.Publisher
	clock    clock.Clock
	capture  *exception.Capturer
	log      *logger.Entry
	locks    *keylock.Striped

	// spawn runs close submissions; tests replace it to run inline.
	spawn func(func())
	wg    sync.WaitGroup
	newID func() string

	mu         sync.RWMutex
	trades     []*model.Trade
	byID       map[string]*model.Trade
	closing    map[string]*closeState
	exitOrders map[string]string
	seq        int64
}

func NewRegistry(cfg Config, orders OrderPlacer, interest Interest, pub events.Publisher, clk clock.Clock, capture *exception.Capturer, log *logger.Entry) *Registry {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	if clk == nil {
		clk = clock.Real()
	}
	policy := tp_sl.DefaultPolicy()
	if cfg.TrailFirstStep > 0 {
		policy.FirstStep = decimal.NewFromFloat(cfg.TrailFirstStep)
	}
	if cfg.TrailSecondStep > 0 {
		policy.SecondStep = decimal.NewFromFloat(cfg.TrailSecondStep)
	}
	r := &Registry{
		cfg:        cfg,
		policy:     policy,
		orders:     orders,
		interest:   interest,
		pub:        pub,
		clock:      clk,
		capture:    capture,
		log:        log,
		locks:      keylock.New(0),
		newID:      uuid.NewString,
		byID:       map[string]*model.Trade{},
		closing:    map[string]*closeState{},
		exitOrders: map[string]string{},
	}
	r.spawn = func(f func()) {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			f()
		}()
	}
	return r
}

func requesterFor(tradeID string) string {
	return "trade:" + tradeID
}

// Handle routes feed events into the registry.
func (r *Registry) Handle(e events.Event) {
	switch ev := e.(type) {
	case events.TickEvent:
		r.ApplyTick(ev.Tick)
	case events.OrderUpdateEvent:
		_ = r.ApplyOrderEvent(ev.Order)
	}
}

// Wait blocks until in-flight close submissions return.
func (r *Registry) Wait() {
	r.wg.Wait()
}

func (r *Registry) publish(trades []model.Trade) {
	if r.pub == nil {
		return
	}
	for _, t := range trades {
		r.pub.Publish(events.TradeMutated{Trade: t})
	}
}

// OpenTrade registers a freshly placed BUY as a pending trade and acquires interest in its token.
// Requests without a valid token or a trading symbol create nothing.
func (r *Registry) OpenTrade(req model.OpenTradeRequest) (*model.Trade, error) {
	token := strings.TrimSpace(req.SymbolToken)
	symbol := strings.TrimSpace(req.TradingSymbol)
	log := r.log.WithFields(map[string]interface{}{"token": token, "symbol": symbol, "order_id": req.OrderID})
	if token == "" || symbol == "" {
		log.Warn("openTrade rejected: missing symbol token or trading symbol")
		return nil, fmt.Errorf("%w: symboltoken and tradingsymbol are required", apperr.ErrInvalidRequest)
	}
	if !model.ValidToken(token) {
		log.Warn("openTrade rejected: malformed symbol token")
		return nil, fmt.Errorf("%w: symboltoken %q", apperr.ErrInvalidRequest, token)
	}

	trailMode, trailLevel, err := model.ParseTrailMode(req.Trail)
	if err != nil {
		log.WithError(err).Warn("openTrade rejected")
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidRequest, err)
	}

	stopLoss := r.cfg.defaultStopLoss()
	if req.StopLoss != nil && req.StopLoss.IsPositive() {
		stopLoss = model.Money(*req.StopLoss)
	}
	qty := req.Quantity
	if qty <= 0 {
		qty = 1
	}
	now := r.clock.Now()

	t := &model.Trade{
		ID:               r.newID(),
		SymbolToken:      token,
		TradingSymbol:    symbol,
		Exchange:         orDefault(strings.ToUpper(req.Exchange), model.DefaultExchange),
		ProductType:      orDefault(req.ProductType, model.DefaultProductType),
		Variety:          orDefault(req.Variety, model.DefaultVariety),
		Duration:         orDefault(req.Duration, model.DefaultDuration),
		TransactionType:  model.SideBuy,
		Quantity:         qty,
		StopLoss:         stopLoss,
		OriginalStopLoss: stopLoss,
		TrailMode:        trailMode,
		TrailLevel:       trailLevel,
		TradeStatus:      model.TradeStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if id := strings.TrimSpace(req.OrderID); id != "" {
		t.OrderID = &id
	}
	if req.LimitSellPrice != nil && req.LimitSellPrice.IsPositive() {
		t.LimitSellPrice = decimal.NewNullDecimal(model.Money(*req.LimitSellPrice))
	}

	// interest is held before the record exists; a rejected token creates nothing
	if r.interest != nil {
		if err := r.interest.AddInterest(token, t.Exchange, requesterFor(t.ID)); err != nil {
			log.WithError(err).Warn("openTrade rejected: trade interest not registered")
			return nil, err
		}
	}

	unlock := r.locks.Lock(token)
	r.mu.Lock()
	r.seq++
	t.Seq = r.seq
	r.trades = append(r.trades, t)
	r.byID[t.ID] = t
	snapshot := t.Clone()
	r.mu.Unlock()
	r.publish([]model.Trade{snapshot})
	unlock()

	metrics.TradeTransitions.WithLabelValues(string(model.TradeStatusPending)).Inc()
	log.WithField("trade_id", t.ID).Info("trade opened")
	return &snapshot, nil
}

// ApplyTick updates last traded price, PnL and peak profit for the token's trades, tightens
// trailing stops and fires at most one close request per token when the stop-loss is hit.
func (r *Registry) ApplyTick(tick model.Tick) {
	ltp, ok := tick.Price()
	if !ok {
		r.log.WithFields(map[string]interface{}{"token": tick.Token, "raw": tick.RawPrice}).Debug("ignoring tick without usable price")
		return
	}

	unlock := r.locks.Lock(tick.Token)
	var (
		mutated []model.Trade
		closes  []model.Trade
	)
	now := r.clock.Now()

	r.mu.Lock()
	for _, t := range r.trades {
		if t.SymbolToken != tick.Token || t.TradeStatus.IsTerminal() {
			continue
		}
		changed := false
		if !t.LastTradedPrice.Equal(ltp) {
			t.LastTradedPrice = ltp
			changed = true
		}

		if t.IsRunning() {
			if r.recomputePnL(t) {
				changed = true
			}
			if r.applyTrailing(t) {
				changed = true
			}
			if t.ProfitLoss.LessThanOrEqual(t.StopLoss.Neg()) {
				if _, inflight := r.closing[t.SymbolToken]; !inflight {
					r.closing[t.SymbolToken] = &closeState{tradeID: t.ID}
					closes = append(closes, t.Clone())
				}
			}
		}
		if changed {
			t.UpdatedAt = now
			mutated = append(mutated, t.Clone())
		}
	}
	r.mu.Unlock()
	r.publish(mutated)
	unlock()

	for _, t := range closes {
		t := t
		r.log.WithFields(map[string]interface{}{
			"token":       t.SymbolToken,
			"trade_id":    t.ID,
			"profit_loss": t.ProfitLoss.StringFixed(2),
			"stop_loss":   t.StopLoss.StringFixed(2),
		}).Warn("stop-loss hit, closing trade")
		r.spawn(func() { r.submitClose(t) })
	}
}

// recomputePnL must be called with mu held. It reports whether anything changed.
func (r *Registry) recomputePnL(t *model.Trade) bool {
	pnl := model.Money(t.LastTradedPrice.Sub(t.BuyPrice).Mul(decimal.NewFromInt(t.Quantity)))
	changed := false
	if !pnl.Equal(t.ProfitLoss) {
		t.ProfitLoss = pnl
		changed = true
	}
	if pnl.GreaterThan(t.HighestProfit) {
		t.HighestProfit = pnl
		changed = true
	}
	return changed
}

// applyTrailing must be called with mu held.
func (r *Registry) applyTrailing(t *model.Trade) bool {
	sl, stage, moved := tp_sl.ComputeNextStopLoss(r.policy, *t)
	if stage == t.TrailStage && !moved {
		return false
	}
	if moved {
		r.log.WithFields(map[string]interface{}{
			"token":    t.SymbolToken,
			"trade_id": t.ID,
			"from":     t.StopLoss.StringFixed(2),
			"to":       sl.StringFixed(2),
			"stage":    stage,
		}).Info("trailing stop tightened")
		t.StopLoss = sl
	}
	t.TrailStage = stage
	return true
}

func (r *Registry) submitClose(t model.Trade) {
	ctx := context.Background()
	if r.cfg.CloseOrderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.CloseOrderTimeout)
		defer cancel()
	}

	orderID, err := r.orders.PlaceMarketOrder(ctx, model.CloseOrderFor(t))

	unlock := r.locks.Lock(t.SymbolToken)
	r.mu.Lock()
	state := r.closing[t.SymbolToken]
	if err != nil {
		if state != nil && state.tradeID == t.ID && state.orderID == "" {
			delete(r.closing, t.SymbolToken)
		}
		r.mu.Unlock()
		unlock()
		metrics.CloseOrders.WithLabelValues("failed").Inc()
		r.capture.Capture(context.Background(), "trades", "submitClose", exception.LevelError,
			fmt.Errorf("close trade %s: %w", t.ID, err),
			exception.Correlation{Token: t.SymbolToken, TradeID: t.ID, Extra: map[string]interface{}{"quantity": t.Quantity}})
		return
	}

	if state != nil && state.tradeID == t.ID {
		state.orderID = orderID
	}
	r.exitOrders[orderID] = t.ID
	var snapshot []model.Trade
	if live := r.byID[t.ID]; live != nil {
		id := orderID
		live.ExitOrderID = &id
		live.UpdatedAt = r.clock.Now()
		snapshot = append(snapshot, live.Clone())
	}
	r.mu.Unlock()
	r.publish(snapshot)
	unlock()

	metrics.CloseOrders.WithLabelValues("submitted").Inc()
	r.log.WithFields(map[string]interface{}{
		"token":    t.SymbolToken,
		"trade_id": t.ID,
		"order_id": orderID,
	}).Info("close order submitted")
}

// resolveToken finds the token an order event belongs to. Events for unknown
// orders fall back to the trading symbol of a tracked trade.
func (r *Registry) resolveToken(ev model.OrderEvent) string {
	if ev.SymbolToken != "" {
		return ev.SymbolToken
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.exitOrders[ev.OrderID]; ok {
		return r.byID[id].SymbolToken
	}
	for i := len(r.trades) - 1; i >= 0; i-- {
		t := r.trades[i]
		if (t.OrderID != nil && *t.OrderID == ev.OrderID) || (ev.TradingSymbol != "" && t.TradingSymbol == ev.TradingSymbol) {
			return t.SymbolToken
		}
	}
	return ""
}

// findLocked picks the trade an order event applies to. Must be called with mu held.
func (r *Registry) findLocked(token string, ev model.OrderEvent, side string) *model.Trade {
	if ev.OrderID != "" {
		if id, ok := r.exitOrders[ev.OrderID]; ok {
			return r.byID[id]
		}
		for _, t := range r.trades {
			if t.OrderID != nil && *t.OrderID == ev.OrderID {
				return t
			}
		}
	}
	if side == model.SideSell {
		if state, ok := r.closing[token]; ok {
			return r.byID[state.tradeID]
		}
		return r.latestLocked(token, model.TradeStatusRunning)
	}
	return r.latestLocked(token, model.TradeStatusPending)
}

func (r *Registry) latestLocked(token string, status model.TradeStatus) *model.Trade {
	for i := len(r.trades) - 1; i >= 0; i-- {
		t := r.trades[i]
		if t.SymbolToken == token && t.TradeStatus == status {
			return t
		}
	}
	return nil
}

// ApplyOrderEvent advances the matching trade along
// pending -(BUY complete)-> running -(SELL complete)-> closed, and
// pending -(BUY cancelled|rejected)-> cancelled|rejected.
// Terminal trades never change.
func (r *Registry) ApplyOrderEvent(ev model.OrderEvent) error {
	token := r.resolveToken(ev)
	log := r.log.WithFields(map[string]interface{}{
		"token":    token,
		"order_id": ev.OrderID,
		"status":   ev.Status,
		"side":     ev.TransactionType,
	})
	if token == "" {
		log.Warn("order update for untracked instrument")
		return fmt.Errorf("%w: order %s", apperr.ErrUnknownInstrument, ev.OrderID)
	}

	side := strings.ToUpper(strings.TrimSpace(ev.TransactionType))
	unlock := r.locks.Lock(token)

	r.mu.Lock()
	t := r.findLocked(token, ev, side)
	if t == nil {
		r.mu.Unlock()
		unlock()
		log.Warn("order update for untracked instrument")
		return fmt.Errorf("%w: token %s", apperr.ErrUnknownInstrument, token)
	}
	if t.TradeStatus.IsTerminal() {
		r.mu.Unlock()
		unlock()
		log.WithField("trade_id", t.ID).Debug("ignoring order update for finished trade")
		return nil
	}
	if side == "" {
		side = model.SideBuy
		if t.ExitOrderID != nil && *t.ExitOrderID == ev.OrderID {
			side = model.SideSell
		}
	}

	from := t.TradeStatus
	t.OrderStatus = string(ev.Status)
	switch {
	case side == model.SideBuy && ev.Status == model.OrderStatusComplete && from == model.TradeStatusPending:
		t.TradeStatus = model.TradeStatusRunning
		if ev.AveragePrice.IsPositive() {
			t.BuyPrice = model.Money(ev.AveragePrice)
		}
		if ev.Quantity > 0 {
			t.Quantity = ev.Quantity
		}
		if t.OrderID == nil && ev.OrderID != "" {
			id := ev.OrderID
			t.OrderID = &id
		}
		if t.LastTradedPrice.IsPositive() {
			r.recomputePnL(t)
		}

	case side == model.SideBuy && (ev.Status == model.OrderStatusCancelled || ev.Status == model.OrderStatusRejected) && from == model.TradeStatusPending:
		t.TradeStatus = model.TradeStatus(ev.Status)

	case side == model.SideSell && ev.Status == model.OrderStatusComplete && from == model.TradeStatusRunning:
		t.TradeStatus = model.TradeStatusClosed
		if ev.AveragePrice.IsPositive() {
			t.SellPrice = model.Money(ev.AveragePrice)
		}
		t.ProfitLoss = model.Money(t.SellPrice.Sub(t.BuyPrice).Mul(decimal.NewFromInt(t.Quantity)))
		if t.ProfitLoss.GreaterThan(t.HighestProfit) {
			t.HighestProfit = t.ProfitLoss
		}
		if t.ExitOrderID == nil && ev.OrderID != "" {
			id := ev.OrderID
			t.ExitOrderID = &id
		}
		r.clearCloseLocked(token, t.ID)

	case side == model.SideSell && (ev.Status == model.OrderStatusCancelled || ev.Status == model.OrderStatusRejected):
		log.WithField("trade_id", t.ID).Warn("close order cancelled or rejected, trade stays open")
		r.clearCloseLocked(token, t.ID)
	}

	t.UpdatedAt = r.clock.Now()
	to := t.TradeStatus
	snapshot := t.Clone()
	r.mu.Unlock()
	r.publish([]model.Trade{snapshot})
	unlock()

	if to != from {
		metrics.TradeTransitions.WithLabelValues(string(to)).Inc()
		log.WithFields(map[string]interface{}{"trade_id": t.ID, "from": from, "to": to}).Info("trade status changed")
	}
	if to.IsTerminal() && r.interest != nil {
		if err := r.interest.RemoveInterest(token, requesterFor(snapshot.ID)); err != nil {
			log.WithError(err).Warn("failed to release trade interest")
		}
	}
	return nil
}

// clearCloseLocked drops the in-flight close for token if it belongs to tradeID.
func (r *Registry) clearCloseLocked(token, tradeID string) {
	if state, ok := r.closing[token]; ok && state.tradeID == tradeID {
		delete(r.closing, token)
	}
}

// UpdateTrade applies a manual edit to the latest open trade on token.
// A new stop-loss also resets the trailing thresholds it is measured against.
func (r *Registry) UpdateTrade(token string, upd model.TradeUpdate) (*model.Trade, error) {
	token = strings.TrimSpace(token)
	if token == "" || upd.IsEmpty() {
		return nil, fmt.Errorf("%w: token and at least one field are required", apperr.ErrInvalidRequest)
	}
	if upd.StopLoss != nil && !upd.StopLoss.IsPositive() {
		return nil, fmt.Errorf("%w: stop loss must be positive", apperr.ErrInvalidRequest)
	}
	if upd.LimitSellPrice != nil && upd.LimitSellPrice.IsNegative() {
		return nil, fmt.Errorf("%w: limit sell price must not be negative", apperr.ErrInvalidRequest)
	}
	var (
		trailMode  model.TrailMode
		trailLevel decimal.Decimal
	)
	if upd.Trail != nil {
		var err error
		trailMode, trailLevel, err = model.ParseTrailMode(*upd.Trail)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidRequest, err)
		}
	}

	unlock := r.locks.Lock(token)
	defer unlock()

	r.mu.Lock()
	t := r.latestLocked(token, model.TradeStatusRunning)
	if t == nil {
		t = r.latestLocked(token, model.TradeStatusPending)
	}
	if t == nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: no open trade for token %s", apperr.ErrUnknownInstrument, token)
	}
	if upd.StopLoss != nil {
		t.StopLoss = model.Money(*upd.StopLoss)
		t.OriginalStopLoss = t.StopLoss
		t.TrailStage = 0
	}
	if upd.Trail != nil {
		t.TrailMode = trailMode
		t.TrailLevel = trailLevel
		t.TrailStage = 0
	}
	if upd.LimitSellPrice != nil {
		if upd.LimitSellPrice.IsZero() {
			t.LimitSellPrice = decimal.NullDecimal{}
		} else {
			t.LimitSellPrice = decimal.NewNullDecimal(model.Money(*upd.LimitSellPrice))
		}
	}
	t.UpdatedAt = r.clock.Now()
	snapshot := t.Clone()
	r.mu.Unlock()

	r.log.WithFields(map[string]interface{}{"token": token, "trade_id": snapshot.ID}).Info("trade updated by consumer")
	r.publish([]model.Trade{snapshot})
	return &snapshot, nil
}

// HasRunning reports whether any running trade uses token.
func (r *Registry) HasRunning(token string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.trades {
		if t.SymbolToken == token && t.IsRunning() {
			return true
		}
	}
	return false
}

// Trades returns copies of every trade in creation order.
func (r *Registry) Trades() []model.Trade {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Trade, 0, len(r.trades))
	for _, t := range r.trades {
		out = append(out, t.Clone())
	}
	return out
}

// TradesForToken returns copies of the trades on token in creation order.
func (r *Registry) TradesForToken(token string) []model.Trade {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Trade
	for _, t := range r.trades {
		if t.SymbolToken == token {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Restore loads a persisted trade book. Open trades re-acquire their token interest and a
// close that was in flight when the snapshot was taken stays guarded.
func (r *Registry) Restore(saved []model.Trade) {
	var reacquire []model.Trade

	r.mu.Lock()
	for i := range saved {
		t := saved[i].Clone()
		if _, dup := r.byID[t.ID]; dup || t.ID == "" {
			continue
		}
		r.trades = append(r.trades, &t)
		r.byID[t.ID] = &t
		if t.Seq > r.seq {
			r.seq = t.Seq
		}
		if t.ExitOrderID != nil {
			r.exitOrders[*t.ExitOrderID] = t.ID
			if t.IsRunning() && !exitSettled(t.OrderStatus) {
				r.closing[t.SymbolToken] = &closeState{tradeID: t.ID, orderID: *t.ExitOrderID}
			}
		}
		if !t.TradeStatus.IsTerminal() {
			reacquire = append(reacquire, t)
		}
	}
	r.mu.Unlock()

	r.log.WithFields(map[string]interface{}{"trades": len(saved), "open": len(reacquire)}).Info("trade book restored")
	if r.interest == nil {
		return
	}
	for _, t := range reacquire {
		if err := r.interest.AddInterest(t.SymbolToken, t.Exchange, requesterFor(t.ID)); err != nil {
			r.log.WithField("token", t.SymbolToken).WithError(err).Warn("restored trade interest not registered")
		}
	}
}

// exitSettled reports whether the last order status means no exit order is still working.
func exitSettled(status string) bool {
	switch model.OrderStatus(status) {
	case model.OrderStatusCancelled, model.OrderStatusRejected:
		return true
	}
	return false
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}
