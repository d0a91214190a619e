package handshake

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"gosuda.org/curve/cryptoops"
	"gosuda.org/curve/wire"
	"gosuda.org/curve/zap"
)

// ErrConfigurationClosed is returned by SetPermakey once the handshake has
// started: the permanent credential is replaceable only before the first
// Execute call.
var ErrConfigurationClosed = errors.New("handshake: permanent credential cannot be replaced after handshake start")

// errDiscard marks a syntactically invalid input: the frame is dropped
// with no state change and no output, and the exception flag is NOT set.
type errDiscard struct{ cause error }

func (e errDiscard) Error() string { return "handshake: discarded: " + e.cause.Error() }
func (e errDiscard) Unwrap() error { return e.cause }

// errFatal marks a semantically invalid input in a live handshake: the
// exception flag is set and the Machine moves to StateExpectNothing.
type errFatal struct {
	reason Reason
	cause  error
}

func (e errFatal) Error() string {
	if e.cause != nil {
		return "handshake: fatal (" + e.reason.String() + "): " + e.cause.Error()
	}
	return "handshake: fatal: " + e.reason.String()
}
func (e errFatal) Unwrap() error { return e.cause }

func fatal(reason Reason, cause error) error { return errFatal{reason: reason, cause: cause} }
func discard(cause error) error              { return errDiscard{cause: cause} }

// NewClient constructs a client-side Machine. serverPublicKey is the
// server's permanent public key, pinned out-of-band before the handshake
// begins.
func NewClient(permanent cryptoops.Credential, serverPublicKey [cryptoops.KeySize]byte) (*Machine, error) {
	transient, err := cryptoops.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &Machine{
		role:               RoleClient,
		permanent:          permanent,
		transient:          transient,
		peerPermanent:      serverPublicKey,
		peerPermanentKnown: true,
		state:              StateSendHello,
		localMetadata:      wire.NewProperties(),
		peerMetadata:       wire.NewProperties(),
		logger:             zerolog.Nop(),
	}, nil
}

// NewServer constructs a server-side Machine. zapAuth may be nil, in which
// case ZAP is disabled and any well-formed client is accepted. A fresh
// cookie key is generated for this handshake attempt alone.
func NewServer(permanent cryptoops.Credential, zapAuth zap.Authenticator) (*Machine, error) {
	var cookieKey [cryptoops.KeySize]byte
	copy(cookieKey[:], cryptoops.RandomBytes(cryptoops.KeySize))
	return newServer(permanent, zapAuth, cookieKey)
}

// NewServerWithCookieKey constructs a server-side Machine using a
// caller-supplied cookie key instead of generating a fresh one. This lets a
// long-running server rotate its cookie key on its own timer and reuse one
// key across many Machines, rather than the per-handshake regeneration
// NewServer performs.
func NewServerWithCookieKey(permanent cryptoops.Credential, zapAuth zap.Authenticator, cookieKey [cryptoops.KeySize]byte) (*Machine, error) {
	return newServer(permanent, zapAuth, cookieKey)
}

func newServer(permanent cryptoops.Credential, zapAuth zap.Authenticator, cookieKey [cryptoops.KeySize]byte) (*Machine, error) {
	transient, err := cryptoops.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	m := &Machine{
		role:          RoleServer,
		permanent:     permanent,
		transient:     transient,
		state:         StateExpectHello,
		localMetadata: wire.NewProperties(),
		peerMetadata:  wire.NewProperties(),
		zapAuth:       zapAuth,
		zapDomain:     "curve",
		logger:        zerolog.Nop(),
		cookieKey:     cookieKey,
	}
	return m, nil
}

// SetPermakey replaces the permanent credential, taking ownership of it.
// Legal only before the handshake has started.
func (m *Machine) SetPermakey(cred cryptoops.Credential) error {
	if m.handshakeStarted {
		return ErrConfigurationClosed
	}
	m.permanent = cred
	return nil
}

// Execute feeds one input frame (nil for the client's initial "kick") into
// the handshake and returns the frame to send in reply, or nil if there is
// nothing to send. A Machine with the exception flag already set always
// returns nil.
//
// ctx bounds only the optional ZAP round-trip the server performs during
// INITIATE; every other code path is synchronous and non-blocking.
func (m *Machine) Execute(ctx context.Context, input []byte) []byte {
	if m.exception {
		return nil
	}
	if !m.handshakeStarted {
		m.handshakeStarted = true
		m.startedAt = time.Now()
		m.metrics.observeStarted()
	}

	var (
		output []byte
		err    error
	)
	switch m.role {
	case RoleClient:
		output, err = m.executeClient(input)
	case RoleServer:
		output, err = m.executeServer(ctx, input)
	}

	if err == nil {
		return output
	}

	var fe errFatal
	if errors.As(err, &fe) {
		m.becomeFatal(fe.reason)
		m.logger.Debug().Str("role", m.role.String()).Str("reason", fe.reason.String()).Msg("handshake fatal")
		return output // may be non-nil: the server's ERROR frame
	}
	// Syntactically invalid input: silently discarded, no state change.
	m.logger.Trace().Str("role", m.role.String()).Err(err).Msg("handshake discarded input")
	return nil
}

// becomeFatal sets the sticky exception flag and moves to the terminal
// state. It is the single place that implements the deviation policy.
func (m *Machine) becomeFatal(reason Reason) {
	if m.exception {
		return
	}
	m.exception = true
	m.reason = reason
	m.state = StateExpectNothing
	m.metrics.observeFailure(reason, time.Since(m.startedAt))
}

func (m *Machine) becomeConnected() {
	m.state = StateConnected
	m.metrics.observeSuccess(time.Since(m.startedAt))
}
