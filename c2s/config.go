// Package c2s implements the per-connection stanza assembly state
// machine of spec §4.4/§4.5: it owns a Parser sink, advances through
// NEW → STREAM_OPENED → AUTHENTICATED → BOUND → SESSION_ACTIVE, and
// registers/deregisters the client's stanza route as it binds and
// closes.
package c2s

import (
	"crypto/tls"
	"time"
)

// Config bundles the stream-level settings a Client needs; Server
// builds one of these from the loaded configuration file and shares it
// (read-only) across every accepted connection.
type Config struct {
	// Domain is the serving domain advertised in the stream header and
	// compared against the client's requested 'to'.
	Domain string
	// MaxStanzaSize bounds the parser's unconsumed-byte buffer (0 = no
	// limit), guarding against an unbounded tag or text run.
	MaxStanzaSize int
	// RecvBufferSize is how much is read from the socket per readiness
	// notification; re-architected as a per-connection allocation
	// (spec §9's "global scratch receive buffer" note) rather than one
	// shared buffer reused across connections.
	RecvBufferSize int
	// TLS is nil when STARTTLS is not offered.
	TLS *tls.Config
	// MaxAuthFailures closes the stream after this many consecutive
	// SASL failures (spec §4.5); 0 falls back to 3.
	MaxAuthFailures int
}

func (c *Config) maxAuthFailures() int {
	if c.MaxAuthFailures > 0 {
		return c.MaxAuthFailures
	}
	return 3
}

func (c *Config) recvBufferSize() int {
	if c.RecvBufferSize > 0 {
		return c.RecvBufferSize
	}
	return 4096
}

// DefaultConnectTimeout documents the value modules may use for a
// soft idle timeout; the core itself imposes none (spec §5).
const DefaultConnectTimeout = 60 * time.Second
