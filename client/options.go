package client

import (
	"crypto/tls"
	"log/slog"
	"time"

	imap "github.com/outpostmail/mailkit"
)

// Option is a functional option for configuring the client.
type Option func(*Options)

// Options holds all client configuration.
type Options struct {
	// TLSConfig is the TLS configuration for TLS connections.
	TLSConfig *tls.Config

	// Logger is the structured logger.
	Logger *slog.Logger

	// ReadTimeout bounds how long any single command waits for its
	// continuation request or tagged response. Zero or negative
	// disables the deadline.
	ReadTimeout time.Duration

	// WriteTimeout bounds each write on the connection (command lines
	// and literal bytes). Zero or negative disables the deadline.
	WriteTimeout time.Duration

	// IdleTimeout bounds one IDLE cycle, from IdleCommand.Wait to the
	// tagged completion. RFC 2177 recommends terminating and
	// re-issuing IDLE at least every 29 minutes anyway. Zero or
	// negative disables the deadline.
	IdleTimeout time.Duration

	// UnilateralDataHandler handles unsolicited server responses.
	UnilateralDataHandler *UnilateralDataHandler

	// DebugLog enables wire-level protocol logging.
	DebugLog bool
}

// UnilateralDataHandler handles unsolicited server data.
type UnilateralDataHandler struct {
	Expunge func(seqNum uint32)
	Exists  func(count uint32)
	Recent  func(count uint32)
	// Fetch receives the raw attribute text of an unsolicited FETCH
	// response (flag changes pushed during IDLE, NOTIFY, or any other
	// command).
	Fetch func(seqNum uint32, data string)
	// Vanished receives UIDs removed from the mailbox (RFC 7162);
	// earlier marks resynchronization data for changes that predate
	// this connection.
	Vanished func(uids []imap.UID, earlier bool)
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() *Options {
	return &Options{
		Logger:       slog.Default(),
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 1 * time.Minute,
		IdleTimeout:  29 * time.Minute,
	}
}

// WithTLSConfig sets the TLS configuration.
func WithTLSConfig(config *tls.Config) Option {
	return func(o *Options) {
		o.TLSConfig = config
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithReadTimeout sets the read timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.ReadTimeout = d
	}
}

// WithWriteTimeout sets the write timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.WriteTimeout = d
	}
}

// WithIdleTimeout sets the IDLE timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.IdleTimeout = d
	}
}

// WithUnilateralDataHandler sets the handler for unsolicited data.
func WithUnilateralDataHandler(h *UnilateralDataHandler) Option {
	return func(o *Options) {
		o.UnilateralDataHandler = h
	}
}

// WithDebugLog enables wire-level protocol logging.
func WithDebugLog(enable bool) Option {
	return func(o *Options) {
		o.DebugLog = enable
	}
}
