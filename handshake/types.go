// Package handshake implements the CURVE handshake state machine: the
// fixed HELLO → WELCOME → INITIATE → READY sequence (or the server's ERROR
// short-circuit), the server's cookie, and the
// vouch that binds a session's transient keys to the peers' permanent
// identities. It never performs transport I/O: Execute consumes one input
// frame and produces at most one output frame, synchronously, except for
// the optional ZAP round-trip on the server's INITIATE step.
package handshake

import (
	"time"

	"github.com/rs/zerolog"

	"gosuda.org/curve/cryptoops"
	"gosuda.org/curve/wire"
	"gosuda.org/curve/zap"
)

// Role identifies which side of the handshake a Machine plays. It is fixed
// at construction and never changes.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// State is one of the seven states of a connection's lifetime. All
// transitions are strictly monotonic along the role-specific path; any
// deviation moves to StateExpectNothing (see becomeFatal in machine.go).
type State int

const (
	// StateSendHello is the client's initial state: the next Execute(nil)
	// emits HELLO and advances to StateExpectWelcome.
	StateSendHello State = iota
	StateExpectWelcome
	StateExpectHello
	StateExpectInitiate
	StateExpectReady
	StateConnected
	StateExpectNothing
)

func (s State) String() string {
	switch s {
	case StateSendHello:
		return "send_hello_pending"
	case StateExpectWelcome:
		return "expect_welcome"
	case StateExpectHello:
		return "expect_hello"
	case StateExpectInitiate:
		return "expect_initiate"
	case StateExpectReady:
		return "expect_ready"
	case StateConnected:
		return "connected"
	case StateExpectNothing:
		return "expect_nothing"
	default:
		return "unknown"
	}
}

// Machine is a per-connection CURVE handshake engine. It is not safe for
// concurrent use: all Execute calls for one connection must be serialized
// in the order frames arrive from the transport.
type Machine struct {
	role Role

	permanent cryptoops.Credential
	transient cryptoops.KeyPair

	peerPermanent      [cryptoops.KeySize]byte
	peerPermanentKnown bool
	peerTransient      [cryptoops.KeySize]byte
	peerTransientKnown bool

	sharedKeyTT *[cryptoops.KeySize]byte // K_TT, computable once both transient keys are known

	cookieKey [cryptoops.KeySize]byte // server only

	state            State
	handshakeStarted bool // guards SetPermakey/SetMetadata and the other pre-handshake setters

	localMetadata wire.Properties
	peerMetadata  wire.Properties

	zapAuth    zap.Authenticator // server only; nil disables ZAP
	zapDomain  string
	zapAddress string

	exception bool
	reason    Reason

	logger    zerolog.Logger
	metrics   *Metrics
	startedAt time.Time
}

// Role reports which side of the handshake this Machine plays.
func (m *Machine) Role() Role { return m.role }

// Connected reports whether the handshake has completed successfully.
func (m *Machine) Connected() bool { return m.state == StateConnected }

// Exception reports whether the sticky fatal flag is set. Once true, it
// never clears, and Execute/Encode/Decode become permanent no-ops.
func (m *Machine) Exception() bool { return m.exception }

// Reason returns the classification of the last fatal error, or
// ReasonNone if no fatal error has occurred.
func (m *Machine) Reason() Reason { return m.reason }

// State returns the machine's current state, chiefly useful for logging
// and tests; callers should prefer Connected()/Exception() for control flow.
func (m *Machine) State() State { return m.state }

// Metadata returns the peer's metadata, populated the moment Connected()
// becomes true and empty before that. The returned map
// is owned by the Machine; callers must not retain it past Destroy.
func (m *Machine) Metadata() wire.Properties {
	if m.state != StateConnected {
		return wire.NewProperties()
	}
	return m.peerMetadata
}

// PeerPermanentKey returns the peer's permanent public key and whether it
// is known yet: pinned at construction on the client, learned from a
// verified INITIATE on the server. A server caller can use it after
// Connected() to identify the authenticated client.
func (m *Machine) PeerPermanentKey() ([cryptoops.KeySize]byte, bool) {
	return m.peerPermanent, m.peerPermanentKnown
}

// PeerTransientKey returns the peer's transient public key for this
// connection and whether it has been learned yet (from HELLO on the server,
// from WELCOME on the client).
func (m *Machine) PeerTransientKey() ([cryptoops.KeySize]byte, bool) {
	return m.peerTransient, m.peerTransientKnown
}

// SharedKey returns K_TT, the precomputed shared key used for MESSAGE
// encode/decode, once it is available (after WELCOME on the client, after
// INITIATE on the server). Used by the outer façade to hand the message
// codec its key without re-deriving it.
func (m *Machine) SharedKey() (*[cryptoops.KeySize]byte, bool) {
	if m.sharedKeyTT == nil {
		return nil, false
	}
	return m.sharedKeyTT, true
}

// SetMetadata stores a local metadata record to be sent inside INITIATE
// (client) or READY (server). Calls after the handshake has started have
// no effect.
func (m *Machine) SetMetadata(name string, value []byte) {
	if m.handshakeStarted {
		return
	}
	m.localMetadata.Set(name, value)
}

// SetZAPDomain sets the domain the server reports in its ZAP requests.
// Pre-handshake only; later calls have no effect.
func (m *Machine) SetZAPDomain(domain string) {
	if m.handshakeStarted {
		return
	}
	m.zapDomain = domain
}

// SetPeerAddress sets the transport-level peer address (e.g. a remote IP)
// the server reports in its ZAP requests. The core never sees the
// transport, so the address is whatever the caller chooses to supply, or
// empty. Pre-handshake only.
func (m *Machine) SetPeerAddress(address string) {
	if m.handshakeStarted {
		return
	}
	m.zapAddress = address
}

// SetVerbose enables or disables trace-level logging to the Machine's
// logger. The core never defines the sink; callers configure one with
// SetLogger.
func (m *Machine) SetVerbose(verbose bool) {
	if verbose {
		m.logger = m.logger.Level(zerolog.TraceLevel)
	} else {
		m.logger = m.logger.Level(zerolog.Disabled)
	}
}

// SetLogger installs the zerolog.Logger SetVerbose's trace events are
// written to. Defaults to a no-op logger.
func (m *Machine) SetLogger(logger zerolog.Logger) {
	m.logger = logger
}

// SetMetrics installs a Metrics collector the Machine reports handshake
// attempts/successes/failures to. Optional; a nil Metrics (the default) is
// a no-op.
func (m *Machine) SetMetrics(metrics *Metrics) {
	m.metrics = metrics
}

// Destroy releases both key pairs, both metadata mappings, and transitions
// the Machine to a state where every subsequent call is a safe no-op. The
// permanent secret key is wiped; callers must not use the Machine again.
func (m *Machine) Destroy() {
	m.permanent.Wipe()
	m.transient.Wipe()
	if m.sharedKeyTT != nil {
		for i := range m.sharedKeyTT {
			m.sharedKeyTT[i] = 0
		}
	}
	for i := range m.cookieKey {
		m.cookieKey[i] = 0
	}
	m.localMetadata = nil
	m.peerMetadata = nil
	m.exception = true
	m.state = StateExpectNothing
}
