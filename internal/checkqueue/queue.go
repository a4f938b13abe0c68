// Package checkqueue schedules URL checks under a global concurrency cap, a
// per-host cap and a per-host minimum delay, answering from the outcome cache
// when it can.
package checkqueue

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/alvmarrod/link-weaver/internal/cache"
	"github.com/alvmarrod/link-weaver/internal/config"
	"github.com/alvmarrod/link-weaver/internal/link"
)

var (
	// ErrInvalidURL is returned for links that cannot be checked over HTTP
	ErrInvalidURL = errors.New("link cannot be checked")
	// ErrClosed is returned once the queue was closed
	ErrClosed = errors.New("queue closed")
)

// Checker is the network check primitive
type Checker interface {
	Check(ctx context.Context, u *url.URL, auth *link.Auth) link.Result
}

// Item is one scheduled check
type Item struct {
	ID   string
	Link *link.Link
	Auth *link.Auth
	Data any

	key  string
	host string
	// looked is set once the cache was consulted before scheduling, hit
	// holds the outcome found then
	looked bool
	hit    *link.Result
	// limited is set when the item holds a host limiter slot
	limited bool
}

// Result is emitted once per finished item
type Result struct {
	ID   string
	Link *link.Link
	Data any
}

// Queue implements a thread-safe FIFO of URL checks. Callbacks run one at a
// time and must not call Dequeue.
type Queue struct {
	mu        sync.Mutex
	idle      *sync.Cond
	maxActive int
	limiter   *HostLimiter
	checker   Checker
	cache     *cache.Cache
	group     singleflight.Group
	log       *logrus.Entry

	items  []*Item
	active map[string]*Item
	paused bool
	closed bool
	timer  *time.Timer

	// busy is set while items are active or queued, ending counts drains
	// whose end callbacks have not returned yet
	busy   bool
	ending int
	drains int

	ctx    context.Context
	cancel context.CancelFunc

	emitMu sync.Mutex
	onLink []func(Result)
	onEnd  []func()
}

// New creates a check queue. A nil cache, or DisableCache, checks every item
// over the network.
func New(cfg *config.Config, checker Checker, c *cache.Cache, log *logrus.Entry) *Queue {
	if log == nil {
		log = logrus.WithField("component", "checkqueue")
	}
	if cfg.DisableCache {
		c = nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		maxActive: cfg.MaxSockets,
		limiter:   NewHostLimiter(cfg.MaxSocketsPerHost, cfg.RateLimit()),
		checker:   checker,
		cache:     c,
		log:       log,
		active:    make(map[string]*Item),
		ctx:       ctx,
		cancel:    cancel,
	}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// OnLink registers a callback fired for every finished item
func (q *Queue) OnLink(f func(Result)) {
	q.emitMu.Lock()
	defer q.emitMu.Unlock()
	q.onLink = append(q.onLink, f)
}

// OnEnd registers a callback fired each time the queue drains
func (q *Queue) OnEnd(f func()) {
	q.emitMu.Lock()
	defer q.emitMu.Unlock()
	q.onEnd = append(q.onEnd, f)
}

// Enqueue schedules a check of l and returns the item id
func (q *Queue) Enqueue(l *link.Link, auth *link.Auth, data any) (string, error) {
	if l == nil || !l.Valid() {
		return "", ErrInvalidURL
	}
	u := l.URL.Rebased
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrInvalidURL
	}

	item := &Item{
		ID:   uuid.NewString(),
		Link: l,
		Auth: auth,
		Data: data,
		key:  link.Normalize(u),
		host: link.HostKey(u),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrClosed
	}
	q.items = append(q.items, item)
	q.busy = true
	q.mu.Unlock()

	q.log.Debugf("Enqueued %s (%s)", item.key, item.ID)
	q.advance()
	return item.ID, nil
}

// Dequeue removes an item that has not started yet
// Returns false for unknown ids and for items already in flight
func (q *Queue) Dequeue(id string) bool {
	q.mu.Lock()
	index := -1
	for i, item := range q.items {
		if item.ID == id {
			index = i
			break
		}
	}
	if index < 0 {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items[:index], q.items[index+1:]...)
	drained := q.drainedLocked()
	q.mu.Unlock()

	if drained {
		q.emitEnd()
	}
	return true
}

// Pause stops the queue from starting new items
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
}

// Resume allows the queue to start items again
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.advance()
}

// ClearCache drops every cached outcome
func (q *Queue) ClearCache() error {
	if q.cache == nil {
		return nil
	}
	return q.cache.Clear()
}

// NumActive returns the number of items in flight
func (q *Queue) NumActive() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

// NumQueued returns the number of items waiting to start
func (q *Queue) NumQueued() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drains reports whether items are active or queued, and how many times
// the queue drained so far
func (q *Queue) Drains() (pending bool, drains int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.busy, q.drains
}

// Wait blocks until the queue is drained and its end callbacks returned
func (q *Queue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.busy || q.ending > 0 {
		q.idle.Wait()
	}
}

// Close drops queued items, cancels checks in flight and waits for them
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.items = nil
	if q.timer != nil {
		q.timer.Stop()
	}
	drained := q.drainedLocked()
	q.mu.Unlock()

	q.cancel()
	if drained {
		q.emitEnd()
	}
	q.Wait()
}

// advance starts every eligible item in enqueue order
func (q *Queue) advance() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.paused || q.closed {
		return
	}

	now := time.Now()
	var wait time.Duration
	remaining := make([]*Item, 0, len(q.items))
	for i, item := range q.items {
		if len(q.active) >= q.maxActive {
			remaining = append(remaining, q.items[i:]...)
			break
		}

		// live cache hits make no request, host caps do not apply
		if !item.looked {
			item.looked = true
			if res, ok := q.cached(item.key); ok {
				item.hit = &res
				q.active[item.ID] = item
				go q.run(item)
				continue
			}
		}

		ok, delay := q.limiter.CanStart(item.host, now)
		if !ok {
			if delay > 0 && (wait == 0 || delay < wait) {
				wait = delay
			}
			remaining = append(remaining, item)
			continue
		}

		q.limiter.Start(item.host, now)
		item.limited = true
		q.active[item.ID] = item
		go q.run(item)
	}
	q.items = remaining

	if wait > 0 {
		if q.timer != nil {
			q.timer.Stop()
		}
		q.timer = time.AfterFunc(wait, q.advance)
	}
}

// run checks one item, emits its result and frees its slot
func (q *Queue) run(item *Item) {
	res, cached, cancelled := q.check(item)
	if cancelled {
		q.log.Debugf("Check of %s cancelled", item.key)
		item.Link.MarkCancelled()
	} else {
		item.Link.ApplyResult(res, cached)
	}

	// the slot is held until the link callback returned, so a drain is
	// never observed before the last link event
	q.emitLink(Result{ID: item.ID, Link: item.Link, Data: item.Data})

	q.mu.Lock()
	delete(q.active, item.ID)
	if item.limited {
		q.limiter.Done(item.host)
	}
	drained := q.drainedLocked()
	q.mu.Unlock()

	if drained {
		q.emitEnd()
		return
	}
	q.advance()
}

// checkOutcome is what a shared check hands to every waiting item
type checkOutcome struct {
	res       link.Result
	cancelled bool
}

// check answers from the cache or performs the check. Concurrent checks of
// the same key share one request, followers are reported as cached. Checks
// interrupted by Close are reported as cancelled and never cached.
func (q *Queue) check(item *Item) (res link.Result, cached, cancelled bool) {
	if item.hit != nil {
		return *item.hit, true, false
	}
	if res, ok := q.cached(item.key); ok {
		return res, true, false
	}

	leader := false
	v, _, _ := q.group.Do(item.key, func() (any, error) {
		leader = true
		res := q.checker.Check(q.ctx, item.Link.URL.Rebased, item.Auth)
		if q.ctx.Err() != nil {
			return checkOutcome{cancelled: true}, nil
		}
		if q.cache != nil {
			q.cache.Set(item.key, res)
		}
		return checkOutcome{res: res}, nil
	})
	outcome := v.(checkOutcome)
	return outcome.res, !leader, outcome.cancelled
}

// cached returns the live outcome cached for key
func (q *Queue) cached(key string) (link.Result, bool) {
	if q.cache == nil {
		return link.Result{}, false
	}
	res, ok := q.cache.Get(key)
	if ok {
		q.log.Debugf("Cache hit for %s", key)
	}
	return res, ok
}

// drainedLocked reports a transition to the drained state. Callers hold mu.
func (q *Queue) drainedLocked() bool {
	if !q.busy || len(q.items) > 0 || len(q.active) > 0 {
		return false
	}
	q.busy = false
	q.ending++
	q.drains++
	return true
}

func (q *Queue) emitLink(res Result) {
	q.emitMu.Lock()
	defer q.emitMu.Unlock()
	for _, f := range q.onLink {
		f(res)
	}
}

func (q *Queue) emitEnd() {
	q.emitMu.Lock()
	for _, f := range q.onEnd {
		f()
	}
	q.emitMu.Unlock()

	q.mu.Lock()
	q.ending--
	q.idle.Broadcast()
	q.mu.Unlock()
}
