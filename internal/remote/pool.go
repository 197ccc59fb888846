package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rileyhilliard/gpueye/internal/errors"
	"github.com/rileyhilliard/gpueye/internal/host"
	"github.com/rileyhilliard/gpueye/pkg/sshutil"
)

// Dialer opens an SSH connection to a host.
type Dialer func(h host.Descriptor, opts sshutil.Options) (sshutil.SSHClient, error)

// DialDescriptor is the default Dialer. The descriptor's name doubles as the
// ssh_config alias so IdentityFile and friends still apply.
func DialDescriptor(h host.Descriptor, opts sshutil.Options) (sshutil.SSHClient, error) {
	client, err := sshutil.DialEndpoint(Endpoint(h), opts)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Endpoint converts a descriptor into the dial target sshutil understands.
func Endpoint(h host.Descriptor) sshutil.Endpoint {
	return sshutil.Endpoint{
		Alias:     h.Name,
		Hostname:  h.Hostname,
		Port:      h.Port,
		User:      h.User,
		ProxyJump: h.ProxyJump,
	}
}

// Pool keeps SSH connections alive between polling cycles, keyed by host ID.
type Pool struct {
	mu          sync.Mutex
	connections map[string]*poolEntry
	opts        sshutil.Options
	dial        Dialer
}

type poolEntry struct {
	client   sshutil.SSHClient
	lastUsed time.Time
}

// NewPool creates a pool that dials with opts. A nil dial uses DialDescriptor.
func NewPool(opts sshutil.Options, dial Dialer) *Pool {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultConnectTimeout
	}
	if dial == nil {
		dial = DialDescriptor
	}
	return &Pool{
		connections: make(map[string]*poolEntry),
		opts:        opts,
		dial:        dial,
	}
}

// Get returns the pooled connection for h, replacing it if it went stale.
// The liveness check and any redial give up when ctx is done.
func (p *Pool) Get(ctx context.Context, h host.Descriptor) (sshutil.SSHClient, error) {
	p.mu.Lock()
	entry, exists := p.connections[h.ID]
	p.mu.Unlock()

	if exists && entry.client != nil {
		if isAlive(ctx, entry.client, p.opts.Timeout) {
			p.mu.Lock()
			entry.lastUsed = time.Now()
			p.mu.Unlock()
			return entry.client, nil
		}
		p.remove(h.ID)
	}

	client, err := p.dialContext(ctx, h)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if old, ok := p.connections[h.ID]; ok && old.client != nil {
		// Lost a race with a concurrent Get for the same ID.
		_ = old.client.Close()
	}
	p.connections[h.ID] = &poolEntry{client: client, lastUsed: time.Now()}
	p.mu.Unlock()

	return client, nil
}

// dialContext runs the dialer but stops waiting when ctx is done. A client
// that connects after that is closed.
func (p *Pool) dialContext(ctx context.Context, h host.Descriptor) (sshutil.SSHClient, error) {
	if err := ctx.Err(); err != nil {
		return nil, dialAbandoned(err, h)
	}

	type result struct {
		client sshutil.SSHClient
		err    error
	}
	done := make(chan result, 1)
	go func() {
		client, err := p.dial(h, p.opts)
		done <- result{client, err}
	}()

	select {
	case r := <-done:
		return r.client, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil && r.client != nil {
				_ = r.client.Close()
			}
		}()
		return nil, dialAbandoned(ctx.Err(), h)
	}
}

func dialAbandoned(cause error, h host.Descriptor) error {
	return errors.WrapWithCode(cause, errors.ErrSSH,
		fmt.Sprintf("Gave up connecting to '%s'", h.DisplayName()),
		"The poll deadline passed before the SSH handshake finished.")
}

// Close closes all connections in the pool and clears it.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, entry := range p.connections {
		if entry.client != nil {
			_ = entry.client.Close()
		}
		delete(p.connections, id)
	}
}

// CloseOne closes and removes the connection for one host ID.
func (p *Pool) CloseOne(id string) {
	p.remove(id)
}

// Retain closes every connection whose ID isn't in ids.
func (p *Pool) Retain(ids map[string]bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, entry := range p.connections {
		if ids[id] {
			continue
		}
		if entry.client != nil {
			_ = entry.client.Close()
		}
		delete(p.connections, id)
	}
}

// Size returns the number of connections in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.connections)
}

func (p *Pool) remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.connections[id]; ok {
		if entry.client != nil {
			_ = entry.client.Close()
		}
		delete(p.connections, id)
	}
}

// isAlive opens and closes a session as a connectivity test. A peer that
// doesn't answer within timeout, or before ctx is done, counts as dead.
func isAlive(ctx context.Context, client sshutil.SSHClient, timeout time.Duration) bool {
	if client == nil {
		return false
	}

	type result struct {
		session sshutil.Session
		err     error
	}
	done := make(chan result, 1)
	go func() {
		session, err := client.NewSession()
		done <- result{session, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			return false
		}
		_ = r.session.Close()
		return true
	case <-ctx.Done():
	case <-timer.C:
	}

	// The caller closes the client, which unblocks NewSession.
	go func() {
		if r := <-done; r.err == nil {
			_ = r.session.Close()
		}
	}()
	return false
}
