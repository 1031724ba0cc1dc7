package subscription

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	logger "github.com/sirupsen/logrus"

	"traderobot/src/apperr"
	"traderobot/src/keylock"
	"traderobot/src/metrics"
	"traderobot/src/model"
)

// Feed receives venue interest changes.
type Feed interface {
	Subscribe(token, exchange string) error
	Unsubscribe(token, exchange string) error
}

// RunningChecker reports whether a running trade still needs a token's prices.
type RunningChecker interface {
	HasRunning(token string) bool
}

type entry struct {
	exchange   string
	requesters map[string]struct{}
	// subscribed is true while the venue is asked for this token.
	subscribed bool
}

// Multiplexer reference-counts interest in tokens across requesters and only talks to the
// feed on 0->1 and 1->0 transitions. Work on one token is serialized; different tokens
// proceed in parallel.
type Multiplexer struct {
	feed  Feed
	locks *keylock.Striped
	log   *logger.Entry

	mu          sync.Mutex
	entries     map[string]*entry
	byRequester map[string]map[string]struct{}
	running     RunningChecker
}

func New(feed Feed, log *logger.Entry) *Multiplexer {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	return &Multiplexer{
		feed:        feed,
		locks:       keylock.New(0),
		log:         log,
		entries:     map[string]*entry{},
		byRequester: map[string]map[string]struct{}{},
	}
}

// SetRunningChecker attaches the trade registry. Until set, no token is considered held by a trade.
func (m *Multiplexer) SetRunningChecker(rc RunningChecker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = rc
}

func normalizeToken(token string) (string, error) {
	t := strings.TrimSpace(token)
	if !model.ValidToken(t) {
		return "", fmt.Errorf("%w: token %q", apperr.ErrInvalidRequest, token)
	}
	return t, nil
}

// AddInterest registers requester's interest in token. Adding the same requester twice is a no-op.
func (m *Multiplexer) AddInterest(token, exchange, requester string) error {
	token, err := normalizeToken(token)
	if err != nil {
		return err
	}
	if requester == "" {
		return fmt.Errorf("%w: empty requester", apperr.ErrInvalidRequest)
	}
	if exchange == "" {
		exchange = model.DefaultExchange
	}
	unlock := m.locks.Lock(token)
	defer unlock()

	m.mu.Lock()
	e, ok := m.entries[token]
	if !ok {
		e = &entry{exchange: exchange, requesters: map[string]struct{}{}}
		m.entries[token] = e
	}
	if _, dup := e.requesters[requester]; dup {
		m.mu.Unlock()
		return nil
	}
	e.requesters[requester] = struct{}{}
	if m.byRequester[requester] == nil {
		m.byRequester[requester] = map[string]struct{}{}
	}
	m.byRequester[requester][token] = struct{}{}
	needSubscribe := !e.subscribed
	e.subscribed = true
	segment := e.exchange
	count := len(e.requesters)
	m.refreshGaugeLocked()
	m.mu.Unlock()

	log := m.log.WithFields(map[string]interface{}{"token": token, "requester": requester, "ref_count": count})
	if !needSubscribe {
		log.Debug("interest added")
		return nil
	}
	if err := m.feed.Subscribe(token, segment); err != nil {
		// stays desired; replayed when the market channel connects
		log.WithError(err).Warn("subscribe deferred until feed reconnects")
		return nil
	}
	log.Info("subscribed")
	return nil
}

// RemoveInterest drops requester's interest. The venue subscription is released only when no
// requester remains and no running trade uses the token.
func (m *Multiplexer) RemoveInterest(token, requester string) error {
	token, err := normalizeToken(token)
	if err != nil {
		return err
	}
	unlock := m.locks.Lock(token)
	defer unlock()
	m.release(token, requester)
	return nil
}

// release must be called with the token's stripe held.
func (m *Multiplexer) release(token, requester string) {
	m.mu.Lock()
	e, ok := m.entries[token]
	if !ok {
		m.mu.Unlock()
		return
	}
	if _, held := e.requesters[requester]; !held {
		m.mu.Unlock()
		return
	}
	delete(e.requesters, requester)
	if set := m.byRequester[requester]; set != nil {
		delete(set, token)
		if len(set) == 0 {
			delete(m.byRequester, requester)
		}
	}
	remaining := len(e.requesters)
	rc := m.running
	segment := e.exchange
	m.mu.Unlock()

	log := m.log.WithFields(map[string]interface{}{"token": token, "requester": requester, "ref_count": remaining})
	if remaining > 0 {
		log.Info("keeping subscription, other requesters remain")
		return
	}
	if rc != nil && rc.HasRunning(token) {
		log.Info("keeping subscription, trade still running")
		return
	}

	m.mu.Lock()
	delete(m.entries, token)
	m.refreshGaugeLocked()
	m.mu.Unlock()

	if err := m.feed.Unsubscribe(token, segment); err != nil {
		log.WithError(err).Warn("unsubscribe not sent")
		return
	}
	log.Info("unsubscribed")
}

// RemoveRequester releases every token the requester held, e.g. on consumer disconnect.
func (m *Multiplexer) RemoveRequester(requester string) {
	m.mu.Lock()
	tokens := make([]string, 0, len(m.byRequester[requester]))
	for token := range m.byRequester[requester] {
		tokens = append(tokens, token)
	}
	m.mu.Unlock()

	sort.Strings(tokens)
	for _, token := range tokens {
		unlock := m.locks.Lock(token)
		m.release(token, requester)
		unlock()
	}
}

// RefCount returns the number of distinct requesters interested in token.
func (m *Multiplexer) RefCount(token string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[token]; ok {
		return len(e.requesters)
	}
	return 0
}

// Subscribed reports whether the venue is currently asked for token.
func (m *Multiplexer) Subscribed(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[token]
	return ok && e.subscribed
}

// Subscriptions lists every desired venue subscription, sorted by token.
func (m *Multiplexer) Subscriptions() []model.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Subscription, 0, len(m.entries))
	for token, e := range m.entries {
		if e.subscribed {
			out = append(out, model.Subscription{Token: token, Exchange: e.exchange})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}

func (m *Multiplexer) refreshGaugeLocked() {
	metrics.Subscriptions.Set(float64(len(m.entries)))
}
