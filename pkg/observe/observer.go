package observe

import (
	"sync"
	"time"

	"github.com/dm-alt/USM-scripts/pkg/models"
)

// Observer records the most recent metrics request seen on any traffic
// source. It keeps a single slot, never a log, and allows at most one live
// subscriber. Construct it once and pass it to everything that produces or
// consumes traffic.
type Observer struct {
	matcher Matcher
	now     func() time.Time

	mu     sync.Mutex
	latest *models.ObservedRequest
	sub    chan *models.ObservedRequest
	hooks  []func(*models.ObservedRequest)
}

// NewObserver creates an observer using m to recognize URLs
func NewObserver(m Matcher) *Observer {
	return &Observer{
		matcher: m,
		now:     time.Now,
	}
}

// OnMatch registers fn to be called for every match, after the slot is
// updated. Hooks run on the caller's goroutine and must not block.
func (o *Observer) OnMatch(fn func(*models.ObservedRequest)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hooks = append(o.hooks, fn)
}

// Observe offers a URL seen just now.
func (o *Observer) Observe(rawURL string) (*models.ObservedRequest, bool) {
	return o.ObserveAt(rawURL, o.now())
}

// ObserveAt offers a URL seen at a given time, e.g. from a recorded HAR file.
// The latest slot only moves forward in time: an older match is reported
// to the caller but does not replace a fresher one.
func (o *Observer) ObserveAt(rawURL string, at time.Time) (*models.ObservedRequest, bool) {
	req, ok := o.matcher.Match(rawURL)
	if !ok {
		return nil, false
	}
	req.ObservedAt = at

	o.mu.Lock()
	if req.NewerThan(o.latest) {
		o.latest = req
	}
	if o.sub != nil {
		offer(o.sub, req)
	}
	hooks := o.hooks
	o.mu.Unlock()

	for _, fn := range hooks {
		fn(req)
	}
	return req, true
}

// Latest returns the freshest match, or nil.
func (o *Observer) Latest() *models.ObservedRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.latest
}

// Seed installs a previously persisted match unless a fresher one is known.
// Hooks are not called.
func (o *Observer) Seed(req *models.ObservedRequest) {
	if req == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if req.NewerThan(o.latest) {
		o.latest = req
	}
}

// Reset clears the latest slot.
func (o *Observer) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.latest = nil
}

// Subscribe opens the live subscription. ok is false when another
// subscriber already holds it; callers should fall back to polling Latest.
// cancel releases the subscription and is safe to call more than once.
func (o *Observer) Subscribe() (ch <-chan *models.ObservedRequest, cancel func(), ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sub != nil {
		return nil, func() {}, false
	}
	c := make(chan *models.ObservedRequest, 1)
	o.sub = c

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			if o.sub == c {
				o.sub = nil
			}
		})
	}
	return c, cancel, true
}

// Subscribed reports whether a live subscription is active.
func (o *Observer) Subscribed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sub != nil
}

// offer delivers req without blocking, replacing an undelivered older one.
func offer(c chan *models.ObservedRequest, req *models.ObservedRequest) {
	select {
	case c <- req:
		return
	default:
	}
	select {
	case <-c:
	default:
	}
	select {
	case c <- req:
	default:
	}
}
