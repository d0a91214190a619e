// Package message implements the post-handshake MESSAGE codec: encoding and
// decoding application frames under the handshake's shared key K_TT, with a
// per-direction monotonically increasing nonce counter. It performs no I/O
// and owns no buffer beyond the frame currently under construction, the same
// synchronous, non-blocking posture as the handshake package.
package message

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/valyala/bytebufferpool"

	"gosuda.org/curve/cryptoops"
	"gosuda.org/curve/wire"
)

var (
	// ErrNonceOverflow is returned once a direction's nonce counter would
	// wrap past its 64-bit range — a fatal condition, never a wrap. On the
	// receive side it also covers a peer-supplied short nonce of the
	// maximum value, which would otherwise wrap nonce_rx and disable the
	// strict-increase check for the rest of the connection.
	ErrNonceOverflow = errors.New("message: nonce counter overflow")
	// ErrReplay is returned by Decode when the incoming short nonce is not
	// strictly greater than every previously accepted value on this
	// direction (covers both replay and reordering).
	ErrReplay = errors.New("message: nonce did not strictly increase")
	// ErrDecryptFailed is returned by Decode on any authentication failure,
	// including a single flipped ciphertext bit.
	ErrDecryptFailed = errors.New("message: authenticated decryption failed")
)

// Side identifies which directional label a Codec uses for its own frames
// versus the frames it expects from the peer: "CurveZMQMESSAGEC" from the
// client, "CurveZMQMESSAGES" from the server.
type Side int

const (
	SideClient Side = iota
	SideServer
)

// Codec encrypts and decrypts MESSAGE frames for one connection, once the
// handshake that produced sharedKey has completed. It is not safe for
// concurrent use; callers must serialize Encode with transmit order and
// Decode with receive order.
type Codec struct {
	side      Side
	sharedKey *[cryptoops.KeySize]byte

	nonceTx uint64
	nonceRx uint64

	exception bool
	fatalErr  error
}

var bufPool bytebufferpool.Pool

// wipeMemory zeroes b out to its full capacity, not just its current
// length, so bytes a previous append left beyond len(b) don't survive in
// the pooled backing array either.
func wipeMemory(b []byte) {
	b = b[:cap(b)]
	for i := range b {
		b[i] = 0
	}
}

// releaseBuffer wipes the plaintext staged in buf before returning it to
// bufPool, so one connection's plaintext can never surface in a buffer
// bufPool hands to an unrelated Encode call.
func releaseBuffer(buf *bytebufferpool.ByteBuffer) {
	wipeMemory(buf.B)
	bufPool.Put(buf)
}

// New constructs a Codec bound to sharedKey (K_TT), with nonce_tx and
// nonce_rx both starting at 1. side determines which label this
// Codec stamps on frames it produces.
func New(side Side, sharedKey *[cryptoops.KeySize]byte) *Codec {
	return &Codec{side: side, sharedKey: sharedKey, nonceTx: 1, nonceRx: 1}
}

// Exception reports whether a previous Encode/Decode call set the sticky
// fatal flag (replay, reorder, authentication failure, or nonce overflow).
// Once set, every subsequent Encode/Decode is a no-op.
func (c *Codec) Exception() bool { return c.exception }

// Err returns the sticky fatal error that set the exception flag, or nil.
// Callers use it to tell a nonce overflow apart from an authentication
// failure after the fact.
func (c *Codec) Err() error { return c.fatalErr }

// becomeFatal sets the sticky exception flag and records err as the
// codec's terminal condition.
func (c *Codec) becomeFatal(err error) error {
	if !c.exception {
		c.exception = true
		c.fatalErr = err
	}
	return err
}

func (c *Codec) ownLabel() string {
	if c.side == SideClient {
		return cryptoops.LabelMessageC
	}
	return cryptoops.LabelMessageS
}

func (c *Codec) peerLabel() string {
	if c.side == SideClient {
		return cryptoops.LabelMessageS
	}
	return cryptoops.LabelMessageC
}

// Encode seals plaintext into a wire-ready MESSAGE frame, setting the
// more-frames-follow bit when more is true. nonce_tx strictly increases on every successful
// call.
func (c *Codec) Encode(plaintext []byte, more bool) ([]byte, error) {
	if c.exception {
		return nil, ErrDecryptFailed
	}
	// The maximum counter value is never used in either direction: using it
	// would leave the peer's nonce_rx nowhere to advance to.
	if c.nonceTx == math.MaxUint64 {
		return nil, c.becomeFatal(ErrNonceOverflow)
	}

	buf := bufPool.Get()
	defer releaseBuffer(buf)
	buf.B = buf.B[:0]
	buf.B = append(buf.B, flagsByte(more))
	buf.B = append(buf.B, plaintext...)

	shortNonce := make([]byte, 8)
	binary.BigEndian.PutUint64(shortNonce, c.nonceTx)
	cryptoNonce := cryptoops.BuildNonce(c.ownLabel(), shortNonce)
	ciphertext := cryptoops.Seal(c.sharedKey, cryptoNonce, buf.B)

	c.nonceTx++

	body := make([]byte, 0, 8+len(ciphertext))
	body = append(body, shortNonce...)
	body = append(body, ciphertext...)
	return wire.BuildCommand(wire.CommandMessage, body)
}

// Decode authenticates and opens a MESSAGE frame, returning the plaintext
// and the more-frames-follow flag. Any nonce that does not strictly exceed
// every previously accepted value, or any authentication failure, sets the
// sticky exception flag and returns an error without delivering plaintext.
func (c *Codec) Decode(frame []byte) (plaintext []byte, more bool, err error) {
	if c.exception {
		return nil, false, ErrDecryptFailed
	}

	name, body, err := wire.SplitCommand(frame)
	if err != nil {
		return nil, false, err
	}
	if name != wire.CommandMessage {
		return nil, false, fmt.Errorf("message: expected MESSAGE, got %s", name)
	}
	if len(body) < 8+cryptoops.TagSize+1 {
		return nil, false, fmt.Errorf("%w: short frame", ErrDecryptFailed)
	}

	shortNonce := body[:8]
	ciphertext := body[8:]
	nonceValue := binary.BigEndian.Uint64(shortNonce)

	if nonceValue < c.nonceRx {
		return nil, false, c.becomeFatal(ErrReplay)
	}
	// Accepting the maximum value would wrap nonce_rx to zero and disable
	// the strict-increase check for the rest of the connection.
	if nonceValue == math.MaxUint64 {
		return nil, false, c.becomeFatal(ErrNonceOverflow)
	}

	cryptoNonce := cryptoops.BuildNonce(c.peerLabel(), shortNonce)
	inner, err := cryptoops.Open(c.sharedKey, cryptoNonce, ciphertext)
	if err != nil {
		return nil, false, c.becomeFatal(ErrDecryptFailed)
	}
	if len(inner) < 1 {
		return nil, false, c.becomeFatal(ErrDecryptFailed)
	}

	c.nonceRx = nonceValue + 1
	return inner[1:], inner[0]&0x01 != 0, nil
}

func flagsByte(more bool) byte {
	if more {
		return 1
	}
	return 0
}
