// Package pool is a generic connection pool with a waiter queue;
// client/pool adapts it for IMAP.
// Unlike a bare idle-list, Get reserves a capacity slot before dialing so
// concurrent callers racing past an empty pool cannot together exceed
// MaxSize, and Put hands a returned connection directly to the oldest
// waiter instead of forcing it to close-and-redial.
package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Factory creates a new pooled value.
type Factory[T any] func(ctx context.Context) (T, error)

// CloseFunc releases a pooled value that is being discarded.
type CloseFunc[T any] func(T) error

// Pool manages up to MaxSize concurrently-live values of type T.
type Pool[T any] struct {
	factory Factory[T]
	closeFn CloseFunc[T]
	maxSize int
	metrics *Metrics

	mu      sync.Mutex
	idle    []T
	active  int
	closed  bool
	waiters []chan getResult[T]
}

// Metrics exposes a pool's live state and lifetime counters to
// Prometheus, mirroring retry.Collector's shape.
type Metrics struct {
	Created  prometheus.Counter
	Discarded prometheus.Counter
	Waiters  prometheus.Gauge
}

// NewMetrics creates a Metrics with the given namespace/subsystem,
// registering its collectors with reg. Active/Idle gauges are wired via
// WithGaugeFuncs after the pool exists, since they read the pool's live
// state rather than accumulating independently.
func NewMetrics(reg prometheus.Registerer, namespace, subsystem string) *Metrics {
	m := &Metrics{
		Created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "pool_created_total",
			Help: "Total number of pooled values created.",
		}),
		Discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "pool_discarded_total",
			Help: "Total number of pooled values discarded as unusable.",
		}),
		Waiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "pool_waiters",
			Help: "Current number of Get calls blocked waiting for a value.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Created, m.Discarded, m.Waiters)
	}
	return m
}

// WithGaugeFuncs registers active/idle gauges backed by p's live state.
// Call after both p and m are constructed.
func WithGaugeFuncs[T any](reg prometheus.Registerer, p *Pool[T], namespace, subsystem string) {
	active := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: "pool_active",
		Help: "Current number of live pooled values (idle + checked out).",
	}, func() float64 { return float64(p.Active()) })
	idle := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: "pool_idle",
		Help: "Current number of idle pooled values.",
	}, func() float64 { return float64(p.Idle()) })
	if reg != nil {
		reg.MustRegister(active, idle)
	}
}

type getResult[T any] struct {
	val T
	err error
}

// New creates a pool that holds at most maxSize live values at once.
func New[T any](maxSize int, factory Factory[T], closeFn CloseFunc[T]) *Pool[T] {
	return &Pool[T]{factory: factory, closeFn: closeFn, maxSize: maxSize}
}

// SetMetrics attaches m to the pool; subsequent Get/Discard calls report
// through it. Pass nil to detach.
func (p *Pool[T]) SetMetrics(m *Metrics) {
	p.mu.Lock()
	p.metrics = m
	p.mu.Unlock()
}

// Get returns an idle value, creates a new one if under capacity, or
// blocks until one is returned by another caller or ctx is done.
func (p *Pool[T]) Get(ctx context.Context) (T, error) {
	var zero T

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return zero, fmt.Errorf("pool: closed")
	}

	if n := len(p.idle); n > 0 {
		v := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return v, nil
	}

	if p.active < p.maxSize {
		p.active++
		metrics := p.metrics
		p.mu.Unlock()

		v, err := p.factory(ctx)
		if err != nil {
			p.mu.Lock()
			p.active--
			p.mu.Unlock()
			return zero, err
		}
		if metrics != nil {
			metrics.Created.Inc()
		}
		return v, nil
	}

	ch := make(chan getResult[T], 1)
	p.waiters = append(p.waiters, ch)
	if p.metrics != nil {
		p.metrics.Waiters.Inc()
	}
	p.mu.Unlock()

	select {
	case res := <-ch:
		if p.metrics != nil {
			p.metrics.Waiters.Dec()
		}
		return res.val, res.err
	case <-ctx.Done():
		p.removeWaiter(ch)
		// A Put racing this cancellation may already have popped the
		// waiter and sent a value; reclaim it rather than leaking it.
		select {
		case res := <-ch:
			if res.err == nil {
				p.Put(res.val)
			}
		default:
		}
		if p.metrics != nil {
			p.metrics.Waiters.Dec()
		}
		return zero, ctx.Err()
	}
}

func (p *Pool[T]) removeWaiter(ch chan getResult[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

// Put returns v to the pool: directly to the oldest waiter if one is
// blocked in Get, otherwise onto the idle list, or closed if the pool has
// been closed.
func (p *Pool[T]) Put(v T) {
	p.mu.Lock()
	if len(p.waiters) > 0 {
		ch := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		ch <- getResult[T]{val: v}
		return
	}

	if p.closed {
		p.active--
		p.mu.Unlock()
		p.closeValue(v)
		return
	}

	p.idle = append(p.idle, v)
	p.mu.Unlock()
}

// Discard releases v back to the pool's capacity without returning it to
// the idle list (for values the caller determined are unusable).
func (p *Pool[T]) Discard(v T) {
	p.mu.Lock()
	p.active--
	if p.metrics != nil {
		p.metrics.Discarded.Inc()
	}
	if len(p.waiters) > 0 {
		ch := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.active++
		p.mu.Unlock()

		go func() {
			nv, err := p.factory(context.Background())
			ch <- getResult[T]{val: nv, err: err}
			if err != nil {
				p.mu.Lock()
				p.active--
				p.mu.Unlock()
			}
		}()
		p.closeValue(v)
		return
	}
	p.mu.Unlock()
	p.closeValue(v)
}

func (p *Pool[T]) closeValue(v T) {
	if p.closeFn != nil {
		p.closeFn(v)
	}
}

// Close closes all idle values and marks the pool closed; values still
// checked out are closed as they're returned via Put/Discard.
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, ch := range waiters {
		var zero T
		ch <- getResult[T]{val: zero, err: fmt.Errorf("pool: closed")}
	}
	for _, v := range idle {
		p.closeValue(v)
	}
	return nil
}

// Idle returns the number of idle values currently held.
func (p *Pool[T]) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Active returns the number of values currently live (idle + checked out).
func (p *Pool[T]) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}
