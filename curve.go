// Package curve is the public, thin outer façade over the handshake and
// message packages: a single Codec type that runs the HELLO/WELCOME/
// INITIATE/READY handshake to completion and then switches to encoding and
// decoding MESSAGE frames, exactly the two phases of one connection's
// lifetime.
package curve

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"gosuda.org/curve/cryptoops"
	"gosuda.org/curve/handshake"
	"gosuda.org/curve/message"
	"gosuda.org/curve/wire"
	"gosuda.org/curve/zap"
)

// ErrNotConnected is returned by Encode/Decode when called before the
// handshake has reached the connected state.
var ErrNotConnected = errors.New("curve: not connected")

// Credential is the permanent CURVE identity a Codec is constructed with.
type Credential = cryptoops.Credential

// KeyPair re-exports the raw public/secret key pair type for callers that
// need to generate or pin keys without going through Credential.
type KeyPair = cryptoops.KeyPair

// Codec is the single type a caller drives end to end: feed it handshake
// frames via Execute until Connected() is true, then call Encode/Decode for
// application data. It is not safe for concurrent use.
type Codec struct {
	hs  *handshake.Machine
	msg *message.Codec
}

// NewClient constructs a client-side Codec. serverPublicKey is the server's
// permanent public key, pinned out of band before the handshake begins.
func NewClient(permanent Credential, serverPublicKey [cryptoops.KeySize]byte) (*Codec, error) {
	hs, err := handshake.NewClient(permanent, serverPublicKey)
	if err != nil {
		return nil, err
	}
	return &Codec{hs: hs}, nil
}

// NewServer constructs a server-side Codec. zapAuth may be nil to disable
// ZAP and accept any well-formed client.
func NewServer(permanent Credential, zapAuth zap.Authenticator) (*Codec, error) {
	hs, err := handshake.NewServer(permanent, zapAuth)
	if err != nil {
		return nil, err
	}
	return &Codec{hs: hs}, nil
}

// NewServerWithCookieKey constructs a server-side Codec using a
// caller-supplied cookie key instead of generating a fresh one per
// handshake, letting a long-running server rotate the key on its own
// timer.
func NewServerWithCookieKey(permanent Credential, zapAuth zap.Authenticator, cookieKey [cryptoops.KeySize]byte) (*Codec, error) {
	hs, err := handshake.NewServerWithCookieKey(permanent, zapAuth, cookieKey)
	if err != nil {
		return nil, err
	}
	return &Codec{hs: hs}, nil
}

// SetPermakey replaces the permanent credential. Legal only before the
// handshake has started.
func (c *Codec) SetPermakey(cred Credential) error {
	return c.hs.SetPermakey(cred)
}

// SetMetadata stores a local metadata record sent during the handshake.
// Calls after the handshake has started have no effect.
func (c *Codec) SetMetadata(name string, value []byte) {
	c.hs.SetMetadata(name, value)
}

// SetZAPDomain sets the domain a server Codec reports in its ZAP requests.
// Pre-handshake only.
func (c *Codec) SetZAPDomain(domain string) {
	c.hs.SetZAPDomain(domain)
}

// SetPeerAddress sets the transport-level peer address a server Codec
// reports in its ZAP requests. The codec never sees the transport, so the
// address is whatever the caller supplies, or empty. Pre-handshake only.
func (c *Codec) SetPeerAddress(address string) {
	c.hs.SetPeerAddress(address)
}

// SetVerbose toggles trace-level handshake logging.
func (c *Codec) SetVerbose(verbose bool) {
	c.hs.SetVerbose(verbose)
}

// SetLogger installs the zerolog.Logger handshake trace events are written
// to. Defaults to a no-op logger.
func (c *Codec) SetLogger(logger zerolog.Logger) {
	c.hs.SetLogger(logger)
}

// SetMetrics installs a handshake.Metrics collector.
func (c *Codec) SetMetrics(metrics *handshake.Metrics) {
	c.hs.SetMetrics(metrics)
}

// Execute feeds one handshake input frame (nil for the client's initial
// kick) and returns the frame to send in reply, or nil. Once Connected() is
// true, Execute is a no-op — use Encode/Decode instead.
func (c *Codec) Execute(ctx context.Context, input []byte) []byte {
	if c.hs.Connected() {
		return nil
	}
	output := c.hs.Execute(ctx, input)
	if c.hs.Connected() && c.msg == nil {
		c.startMessageCodec()
	}
	return output
}

func (c *Codec) startMessageCodec() {
	sharedKey, ok := c.hs.SharedKey()
	if !ok {
		return
	}
	side := message.SideClient
	if c.hs.Role() == handshake.RoleServer {
		side = message.SideServer
	}
	c.msg = message.New(side, sharedKey)
}

// Connected reports whether the handshake has completed successfully.
func (c *Codec) Connected() bool { return c.hs.Connected() }

// Exception reports whether the codec (handshake or message phase) has hit
// a sticky fatal error.
func (c *Codec) Exception() bool {
	if c.hs.Exception() {
		return true
	}
	return c.msg != nil && c.msg.Exception()
}

// Reason returns the failure classification, or handshake.ReasonNone if no
// fatal error has occurred. MESSAGE-phase replay, reorder, and decryption
// failures all surface as ReasonCryptoFailure — nonce order cannot be
// recovered, so there is no finer per-message detail worth keeping — while
// a nonce-counter overflow in either direction surfaces as
// ReasonNonceOverflow.
func (c *Codec) Reason() handshake.Reason {
	if r := c.hs.Reason(); r != handshake.ReasonNone {
		return r
	}
	if c.msg == nil || c.msg.Err() == nil {
		return handshake.ReasonNone
	}
	if errors.Is(c.msg.Err(), message.ErrNonceOverflow) {
		return handshake.ReasonNonceOverflow
	}
	return handshake.ReasonCryptoFailure
}

// PeerPermanentKey returns the peer's permanent public key and whether it
// is known: pinned at construction on the client, learned from a verified
// INITIATE on the server.
func (c *Codec) PeerPermanentKey() ([cryptoops.KeySize]byte, bool) {
	return c.hs.PeerPermanentKey()
}

// Metadata returns the peer's metadata, populated once Connected() is true.
func (c *Codec) Metadata() wire.Properties {
	return c.hs.Metadata()
}

// Encode seals plaintext into a wire-ready MESSAGE frame. Returns
// ErrNotConnected before the handshake completes.
func (c *Codec) Encode(plaintext []byte, more bool) ([]byte, error) {
	if c.msg == nil {
		return nil, ErrNotConnected
	}
	return c.msg.Encode(plaintext, more)
}

// Decode authenticates and opens a MESSAGE frame. Returns ErrNotConnected
// before the handshake completes.
func (c *Codec) Decode(frame []byte) (plaintext []byte, more bool, err error) {
	if c.msg == nil {
		return nil, false, ErrNotConnected
	}
	return c.msg.Decode(frame)
}

// Destroy releases key material and marks the codec unusable.
func (c *Codec) Destroy() {
	c.hs.Destroy()
	c.msg = nil
}
