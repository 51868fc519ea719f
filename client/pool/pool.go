// Package pool provides connection pooling for IMAP clients, built on the
// generic waiter-queue pool in package pool.
package pool

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/outpostmail/mailkit/client"
	genericpool "github.com/outpostmail/mailkit/pool"
)

// Pool manages a pool of IMAP client connections.
type Pool struct {
	inner *genericpool.Pool[*client.Client]
}

// New creates a new connection pool holding at most maxSize live clients.
func New(maxSize int, factory func() (*client.Client, error)) *Pool {
	return &Pool{
		inner: genericpool.New(maxSize, func(ctx context.Context) (*client.Client, error) {
			return factory()
		}, func(c *client.Client) error {
			return c.Close()
		}),
	}
}

// Get returns a client from the pool, creating or waiting for one as
// necessary.
func (p *Pool) Get() (*client.Client, error) {
	return p.GetContext(context.Background())
}

// GetContext is like Get but honors ctx while waiting for capacity. An
// idle client whose connection died while pooled is discarded and its
// slot refilled rather than handed out.
func (p *Pool) GetContext(ctx context.Context) (*client.Client, error) {
	for {
		c, err := p.inner.Get(ctx)
		if err != nil {
			return nil, err
		}
		select {
		case <-c.Done():
			p.inner.Discard(c)
			continue
		default:
			return c, nil
		}
	}
}

// Put returns a client to the pool, or hands it straight to a waiter.
func (p *Pool) Put(c *client.Client) {
	p.inner.Put(c)
}

// Discard releases a client that the caller has determined is unusable,
// closing it and freeing its capacity slot for a fresh connection.
func (p *Pool) Discard(c *client.Client) {
	p.inner.Discard(c)
}

// Close closes all idle clients in the pool.
func (p *Pool) Close() error {
	return p.inner.Close()
}

// Len returns the number of idle clients in the pool.
func (p *Pool) Len() int {
	return p.inner.Idle()
}

// EnableMetrics registers Prometheus counters and gauges for this pool
// under namespace/subsystem with reg.
func (p *Pool) EnableMetrics(reg prometheus.Registerer, namespace, subsystem string) {
	p.inner.SetMetrics(genericpool.NewMetrics(reg, namespace, subsystem))
	genericpool.WithGaugeFuncs(reg, p.inner, namespace, subsystem)
}
