// Package config loads a client-side connection Profile (retry policy,
// pool sizing, TLS settings, proxy settings) from a TOML file, mirroring
// the shape infodancer-pop3d's internal/config package uses for its
// server-side configuration.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/net/idna"

	"github.com/outpostmail/mailkit/proxy"
	"github.com/outpostmail/mailkit/retry"
	"github.com/outpostmail/mailkit/transport"
)

// Profile is the top-level client configuration: one mail account's
// connection parameters, independent of which protocol (IMAP/SMTP/POP3)
// uses them.
type Profile struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`

	TLS   TLSConfig   `toml:"tls"`
	Proxy ProxyConfig `toml:"proxy"`
	Retry RetryConfig `toml:"retry"`
	Pool  PoolConfig  `toml:"pool"`

	// Timeout bounds any single suspending operation; "" means the
	// protocol client's own default applies.
	Timeout string `toml:"timeout"`
}

// TLSConfig controls how the transport validates and upgrades a
// connection's encryption.
type TLSConfig struct {
	// Mode selects when TLS is established: "starttls", "implicit", or
	// "none".
	Mode               string `toml:"mode"`
	MinVersion         string `toml:"min_version"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
	ServerNameOverride string `toml:"server_name_override"`
}

// ProxyConfig describes an optional proxy hop in front of the mail
// server.
type ProxyConfig struct {
	// Type is "", "http_connect", "socks4", "socks4a", or "socks5".
	Type     string `toml:"type"`
	Address  string `toml:"address"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// RetryConfig mirrors retry.Policy in TOML-friendly form (durations as
// strings, parsed on load).
type RetryConfig struct {
	MaxAttempts int    `toml:"max_attempts"`
	BaseDelay   string `toml:"base_delay"`
	MaxDelay    string `toml:"max_delay"`
	// BackoffMultiplier must be >= 1.0; 0 means the default of 2.
	BackoffMultiplier float64 `toml:"backoff_multiplier"`
	UseJitter         bool    `toml:"use_jitter"`
}

// PoolConfig sizes the connection pool for this profile.
type PoolConfig struct {
	MaxConnections int `toml:"max_connections"`
}

// Default returns a Profile with conservative defaults: implicit TLS,
// no proxy, 3 retry attempts, and a pool of four connections.
func Default() Profile {
	return Profile{
		TLS: TLSConfig{Mode: "implicit", MinVersion: "1.2"},
		Retry: RetryConfig{
			MaxAttempts:       3,
			BaseDelay:         "200ms",
			MaxDelay:          "5s",
			BackoffMultiplier: 2,
			UseJitter:         true,
		},
		Pool:    PoolConfig{MaxConnections: 4},
		Timeout: "120s",
	}
}

// Load reads and parses a Profile from a TOML file at path, applying
// Default's values for anything the file omits via toml.Unmarshal's
// zero-value semantics, then validating the result.
func Load(path string) (Profile, error) {
	p := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return p, nil
}

// Validate checks that the profile is internally consistent.
func (p *Profile) Validate() error {
	if p.Host == "" {
		return errors.New("host is required")
	}
	if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("invalid port %d", p.Port)
	}
	switch p.TLS.Mode {
	case "", "starttls", "implicit", "none":
	default:
		return fmt.Errorf("invalid tls.mode %q", p.TLS.Mode)
	}
	if p.TLS.MinVersion != "" {
		if _, ok := minTLSVersions[p.TLS.MinVersion]; !ok {
			return fmt.Errorf("invalid tls.min_version %q", p.TLS.MinVersion)
		}
	}
	switch p.Proxy.Type {
	case "", "http_connect", "socks4", "socks4a", "socks5":
	default:
		return fmt.Errorf("invalid proxy.type %q", p.Proxy.Type)
	}
	if p.Proxy.Type != "" && p.Proxy.Address == "" {
		return errors.New("proxy.address is required when proxy.type is set")
	}
	if p.Pool.MaxConnections <= 0 {
		return errors.New("pool.max_connections must be positive")
	}
	if _, err := p.TimeoutDuration(); err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}
	if _, err := p.Retry.BaseDelayDuration(); err != nil {
		return fmt.Errorf("invalid retry.base_delay: %w", err)
	}
	if _, err := p.Retry.MaxDelayDuration(); err != nil {
		return fmt.Errorf("invalid retry.max_delay: %w", err)
	}
	if m := p.Retry.BackoffMultiplier; m != 0 && m < 1 {
		return fmt.Errorf("retry.backoff_multiplier must be >= 1.0, got %g", m)
	}
	return nil
}

// TimeoutDuration parses Timeout, defaulting to 120s when empty.
func (p *Profile) TimeoutDuration() (time.Duration, error) {
	if p.Timeout == "" {
		return 120 * time.Second, nil
	}
	return time.ParseDuration(p.Timeout)
}

// BaseDelayDuration parses BaseDelay, defaulting to 200ms when empty.
func (r *RetryConfig) BaseDelayDuration() (time.Duration, error) {
	if r.BaseDelay == "" {
		return 200 * time.Millisecond, nil
	}
	return time.ParseDuration(r.BaseDelay)
}

// MaxDelayDuration parses MaxDelay, defaulting to 5s when empty.
func (r *RetryConfig) MaxDelayDuration() (time.Duration, error) {
	if r.MaxDelay == "" {
		return 5 * time.Second, nil
	}
	return time.ParseDuration(r.MaxDelay)
}

// MinTLSVersion returns the crypto/tls constant for the configured
// minimum TLS version, defaulting to TLS 1.2.
func (t *TLSConfig) MinTLSVersion() uint16 {
	if v, ok := minTLSVersions[t.MinVersion]; ok {
		return v
	}
	return tls.VersionTLS12
}

// Dialer builds a transport.Dialer from the profile's TLS and proxy
// settings, wiring the matching proxy.Dialer as its NetDialer when Proxy
// is configured.
func (p *Profile) Dialer() (*transport.Dialer, error) {
	timeout, err := p.TimeoutDuration()
	if err != nil {
		return nil, err
	}
	d := &transport.Dialer{
		DialTimeout: timeout,
		TLSConfig: &tls.Config{
			MinVersion:         p.TLS.MinTLSVersion(),
			InsecureSkipVerify: p.TLS.InsecureSkipVerify,
			ServerName:         p.TLS.ServerNameOverride,
		},
	}

	switch p.Proxy.Type {
	case "":
	case "http_connect":
		d.NetDialer = &proxy.HTTPConnect{ProxyAddr: p.Proxy.Address, Username: p.Proxy.Username, Password: p.Proxy.Password}
	case "socks4", "socks4a":
		d.NetDialer = &proxy.SOCKS4{ProxyAddr: p.Proxy.Address, UserID: p.Proxy.Username}
	case "socks5":
		d.NetDialer = &proxy.SOCKS5{ProxyAddr: p.Proxy.Address, Username: p.Proxy.Username, Password: p.Proxy.Password}
	default:
		return nil, fmt.Errorf("config: unsupported proxy type %q", p.Proxy.Type)
	}
	return d, nil
}

// Addr returns "host:port" for net.Dial-family calls. An
// internationalized hostname is converted to its IDNA A-label form
// (RFC 5890) so the dial and the TLS SNI both see the punycoded name.
func (p *Profile) Addr() string {
	host := p.Host
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}
	return net.JoinHostPort(host, fmt.Sprintf("%d", p.Port))
}

// RetryPolicy builds a retry.Policy from the profile's retry settings.
func (p *Profile) RetryPolicy() (retry.Policy, error) {
	base, err := p.Retry.BaseDelayDuration()
	if err != nil {
		return retry.Policy{}, err
	}
	max, err := p.Retry.MaxDelayDuration()
	if err != nil {
		return retry.Policy{}, err
	}
	attempts := p.Retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	mult := p.Retry.BackoffMultiplier
	if mult == 0 {
		mult = 2
	}
	return retry.Policy{
		MaxAttempts:       attempts,
		BaseDelay:         base,
		MaxDelay:          max,
		BackoffMultiplier: mult,
		UseJitter:         p.Retry.UseJitter,
	}, nil
}

var minTLSVersions = map[string]uint16{
	"1.0": tls.VersionTLS10,
	"1.1": tls.VersionTLS11,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}
