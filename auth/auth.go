// Package auth provides pluggable SASL authentication mechanisms for IMAP.
package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ClientMechanism is a client-side SASL authentication mechanism.
type ClientMechanism interface {
	// Name returns the SASL mechanism name (e.g., "PLAIN", "SCRAM-SHA-256").
	Name() string
	// Start begins authentication and returns the initial response.
	// If no initial response is needed, ir is nil.
	Start() (ir []byte, err error)
	// Next processes a server challenge and returns the client response.
	Next(challenge []byte) (response []byte, err error)
}

// ServerMechanism is a server-side SASL authentication mechanism.
type ServerMechanism interface {
	// Name returns the SASL mechanism name.
	Name() string
	// Next processes a client response and returns the next challenge.
	// If done is true, authentication is complete (successfully or with an error).
	Next(response []byte) (challenge []byte, done bool, err error)
}

// ChannelBinder is implemented by transports that can supply TLS channel
// binding data (RFC 5929) for "-PLUS" SASL mechanism variants. A transport
// with no TLS session in effect returns ok == false.
type ChannelBinder interface {
	ChannelBindingData() (name string, data []byte, ok bool)
}

// Authenticator validates credentials from SASL authentication.
type Authenticator interface {
	// Authenticate validates the given identity and credentials.
	Authenticate(ctx context.Context, mechanism, identity string, credentials []byte) error
}

// AuthenticatorFunc is an adapter for Authenticator.
type AuthenticatorFunc func(ctx context.Context, mechanism, identity string, credentials []byte) error

// Authenticate implements Authenticator.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, mechanism, identity string, credentials []byte) error {
	return f(ctx, mechanism, identity, credentials)
}

// Registry manages available authentication mechanisms.
type Registry struct {
	mu              sync.RWMutex
	clientFactories map[string]ClientMechanismFactory
	serverFactories map[string]ServerMechanismFactory
}

// ClientMechanismFactory creates a new client mechanism instance.
type ClientMechanismFactory func() ClientMechanism

// ServerMechanismFactory creates a new server mechanism instance with an authenticator.
type ServerMechanismFactory func(auth Authenticator) ServerMechanism

// NewRegistry creates a new auth mechanism registry.
func NewRegistry() *Registry {
	return &Registry{
		clientFactories: make(map[string]ClientMechanismFactory),
		serverFactories: make(map[string]ServerMechanismFactory),
	}
}

// RegisterClient registers a client mechanism factory.
func (r *Registry) RegisterClient(name string, factory ClientMechanismFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clientFactories[strings.ToUpper(name)] = factory
}

// RegisterServer registers a server mechanism factory.
func (r *Registry) RegisterServer(name string, factory ServerMechanismFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.serverFactories[strings.ToUpper(name)] = factory
}

// NewClientMechanism creates a new client mechanism by name.
func (r *Registry) NewClientMechanism(name string) (ClientMechanism, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.clientFactories[strings.ToUpper(name)]
	if !ok {
		return nil, fmt.Errorf("auth: unsupported client mechanism %q", name)
	}
	return factory(), nil
}

// NewServerMechanism creates a new server mechanism by name.
func (r *Registry) NewServerMechanism(name string, auth Authenticator) (ServerMechanism, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.serverFactories[strings.ToUpper(name)]
	if !ok {
		return nil, fmt.Errorf("auth: unsupported server mechanism %q", name)
	}
	return factory(auth), nil
}

// ClientMechanisms returns the names of all registered client mechanisms.
func (r *Registry) ClientMechanisms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clientFactories))
	for name := range r.clientFactories {
		names = append(names, name)
	}
	return names
}

// ServerMechanisms returns the names of all registered server mechanisms.
func (r *Registry) ServerMechanisms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.serverFactories))
	for name := range r.serverFactories {
		names = append(names, name)
	}
	return names
}

// preferenceOrder ranks mechanisms for PickMechanism, strongest first.
var preferenceOrder = []string{
	"SCRAM-SHA-256-PLUS",
	"SCRAM-SHA-1-PLUS",
	"SCRAM-SHA-256",
	"SCRAM-SHA-1",
	"CRAM-MD5",
	"LOGIN",
	"PLAIN",
}

// PickMechanism chooses the strongest password mechanism the server
// offers: channel-binding "-PLUS" SCRAM variants when binder can supply
// binding data, then SCRAM-SHA-256, SCRAM-SHA-1, CRAM-MD5, LOGIN, and
// PLAIN, in that order. Mechanisms outside this list (OAuth, GSSAPI,
// NTLM) are never picked automatically since they need more than a
// username and password. Returns "" when nothing in the preference list
// is offered.
func PickMechanism(offered []string, binder ChannelBinder) string {
	set := make(map[string]bool, len(offered))
	for _, m := range offered {
		set[strings.ToUpper(m)] = true
	}
	haveBinding := false
	if binder != nil {
		_, _, haveBinding = binder.ChannelBindingData()
	}
	for _, name := range preferenceOrder {
		if strings.HasSuffix(name, "-PLUS") && !haveBinding {
			continue
		}
		if set[name] {
			return name
		}
	}
	return ""
}

// DefaultRegistry is the global default registry with built-in mechanisms.
var DefaultRegistry = NewRegistry()
