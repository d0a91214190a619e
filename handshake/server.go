package handshake

import (
	"context"
	"encoding/hex"

	"gosuda.org/curve/cryptoops"
	"gosuda.org/curve/wire"
	"gosuda.org/curve/zap"
)

// cookiePlaintextSize is the width of what the server seals into the cookie:
// the client's transient public key and the server's own transient secret
// key. handleInitiate opens the cookie and checks both against the keys this
// Machine kept from HELLO; the Machine itself still holds that
// per-connection state between HELLO and INITIATE.
const cookiePlaintextSize = cryptoops.KeySize + cryptoops.KeySize

// executeServer drives the server-side path: HELLO → WELCOME, INITIATE →
// (optional ZAP round-trip) → READY or ERROR.
func (m *Machine) executeServer(ctx context.Context, input []byte) ([]byte, error) {
	switch m.state {
	case StateExpectHello:
		return m.handleHello(input)
	case StateExpectInitiate:
		return m.handleInitiate(ctx, input)
	default:
		return nil, discard(errUnexpectedInState(m.state))
	}
}

// --- Step 1: HELLO -> WELCOME ---

func (m *Machine) handleHello(input []byte) ([]byte, error) {
	name, body, err := wire.SplitCommand(input)
	if err != nil {
		// Not even a well-formed frame: discarded, no state change.
		return nil, discard(err)
	}
	if !wire.IsKnownCommand(name) {
		return nil, discard(errUnexpectedCommand(name, wire.CommandHello))
	}
	if name != wire.CommandHello {
		// A recognized command out of sequence is a live protocol deviation.
		return m.sendError(ReasonInvalidCommand)
	}

	const wantLen = 2 + helloPaddingSize + cryptoops.KeySize + 8 + helloZeroProofSize + cryptoops.TagSize
	if len(body) != wantLen || body[0] != 1 || body[1] != 0 {
		return m.sendError(ReasonMalformedFrame)
	}
	for _, b := range body[2 : 2+helloPaddingSize] {
		if b != 0 {
			return m.sendError(ReasonInvalidPadding)
		}
	}
	offset := 2 + helloPaddingSize
	clientTransientPublic := [cryptoops.KeySize]byte{}
	copy(clientTransientPublic[:], body[offset:offset+cryptoops.KeySize])
	offset += cryptoops.KeySize
	shortNonce := body[offset : offset+8]
	offset += 8
	box := body[offset:]

	m.peerTransient = clientTransientPublic
	m.peerTransientKnown = true

	nonce := cryptoops.BuildNonce(cryptoops.LabelHello, shortNonce)
	sharedHelloKey := cryptoops.Precompute(&m.peerTransient, &m.permanent.Secret)
	zeroProof, err := cryptoops.Open(sharedHelloKey, nonce, box)
	if err != nil {
		return m.sendError(ReasonCryptoFailure)
	}
	for _, b := range zeroProof {
		if b != 0 {
			return m.sendError(ReasonInvalidPadding)
		}
	}

	m.logger.Trace().Str("command", wire.CommandHello).Int("len", len(input)).Msg("hello.recv")
	return m.sendWelcome()
}

func (m *Machine) sendWelcome() ([]byte, error) {
	cookiePlaintext := make([]byte, 0, cookiePlaintextSize)
	cookiePlaintext = append(cookiePlaintext, m.peerTransient[:]...)
	cookiePlaintext = append(cookiePlaintext, m.transient.Secret[:]...)

	cookieShortNonce := cryptoops.RandomBytes(16)
	cookieNonce := cryptoops.BuildNonce(cryptoops.LabelCookie, cookieShortNonce)
	cookieBox := cryptoops.SecretSeal(&m.cookieKey, cookieNonce, cookiePlaintext)
	cookie := make([]byte, 0, 16+len(cookieBox))
	cookie = append(cookie, cookieShortNonce...)
	cookie = append(cookie, cookieBox...)

	welcomePlaintext := make([]byte, 0, cryptoops.KeySize+len(cookie))
	welcomePlaintext = append(welcomePlaintext, m.transient.Public[:]...)
	welcomePlaintext = append(welcomePlaintext, cookie...)

	welcomeShortNonce := cryptoops.RandomBytes(16)
	welcomeNonce := cryptoops.BuildNonce(cryptoops.LabelWelcome, welcomeShortNonce)
	sharedHelloKey := cryptoops.Precompute(&m.peerTransient, &m.permanent.Secret)
	welcomeBox := cryptoops.Seal(sharedHelloKey, welcomeNonce, welcomePlaintext)

	body := make([]byte, 0, 16+len(welcomeBox))
	body = append(body, welcomeShortNonce...)
	body = append(body, welcomeBox...)

	frame, err := wire.BuildCommand(wire.CommandWelcome, body)
	if err != nil {
		return nil, fatal(ReasonMalformedFrame, err)
	}
	m.state = StateExpectInitiate
	m.logger.Trace().Str("command", wire.CommandWelcome).Int("len", len(frame)).Msg("welcome.sent")
	return frame, nil
}

// --- Step 2: INITIATE -> READY / ERROR ---

func (m *Machine) handleInitiate(ctx context.Context, input []byte) ([]byte, error) {
	name, body, err := wire.SplitCommand(input)
	if err != nil {
		return nil, discard(err)
	}
	if !wire.IsKnownCommand(name) {
		return nil, discard(errUnexpectedCommand(name, wire.CommandInitiate))
	}
	if name != wire.CommandInitiate {
		return m.sendError(ReasonInvalidCommand)
	}

	const cookieLen = 16 + cryptoops.KeySize + cryptoops.KeySize + cryptoops.TagSize
	if len(body) < cookieLen+8+cryptoops.TagSize {
		return m.sendError(ReasonMalformedFrame)
	}
	cookie := body[:cookieLen]
	rest := body[cookieLen:]
	initiateShortNonce := rest[:8]
	outerBox := rest[8:]

	cookieShortNonce := cookie[:16]
	cookieBox := cookie[16:]
	cookieNonce := cryptoops.BuildNonce(cryptoops.LabelCookie, cookieShortNonce)
	cookiePlaintext, err := cryptoops.SecretOpen(&m.cookieKey, cookieNonce, cookieBox)
	if err != nil {
		return m.sendError(ReasonInvalidCookie)
	}

	cookieClientTransient := [cryptoops.KeySize]byte{}
	copy(cookieClientTransient[:], cookiePlaintext[:cryptoops.KeySize])
	cookieServerTransientSecret := [cryptoops.KeySize]byte{}
	copy(cookieServerTransientSecret[:], cookiePlaintext[cryptoops.KeySize:])

	if !cryptoops.ConstantTimeEqual(cookieClientTransient[:], m.peerTransient[:]) {
		return m.sendError(ReasonInvalidCookie)
	}
	if !cryptoops.ConstantTimeEqual(cookieServerTransientSecret[:], m.transient.Secret[:]) {
		return m.sendError(ReasonInvalidCookie)
	}

	m.sharedKeyTT = cryptoops.Precompute(&m.peerTransient, &m.transient.Secret)
	initiateNonce := cryptoops.BuildNonce(cryptoops.LabelInitiate, initiateShortNonce)
	innerPlaintext, err := cryptoops.Open(m.sharedKeyTT, initiateNonce, outerBox)
	if err != nil {
		return m.sendError(ReasonCryptoFailure)
	}

	const vouchNonceLen = 16
	if len(innerPlaintext) < cryptoops.KeySize+vouchNonceLen+cryptoops.KeySize+cryptoops.KeySize+cryptoops.TagSize {
		return m.sendError(ReasonMalformedFrame)
	}
	clientPermanentPublic := [cryptoops.KeySize]byte{}
	copy(clientPermanentPublic[:], innerPlaintext[:cryptoops.KeySize])
	offset := cryptoops.KeySize
	vouchShortNonce := innerPlaintext[offset : offset+vouchNonceLen]
	offset += vouchNonceLen
	const vouchBoxLen = cryptoops.KeySize + cryptoops.KeySize + cryptoops.TagSize
	vouchBox := innerPlaintext[offset : offset+vouchBoxLen]
	metadataBytes := innerPlaintext[offset+vouchBoxLen:]

	vouchNonce := cryptoops.BuildNonce(cryptoops.LabelVouch, vouchShortNonce)
	vouchSharedKey := cryptoops.Precompute(&clientPermanentPublic, &m.permanent.Secret)
	vouchPlaintext, err := cryptoops.Open(vouchSharedKey, vouchNonce, vouchBox)
	if err != nil {
		return m.sendError(ReasonInvalidVouch)
	}
	if len(vouchPlaintext) != cryptoops.KeySize+cryptoops.KeySize {
		return m.sendError(ReasonInvalidVouch)
	}
	vouchedTransient := vouchPlaintext[:cryptoops.KeySize]
	vouchedServerPermanent := vouchPlaintext[cryptoops.KeySize:]
	if !cryptoops.ConstantTimeEqual(vouchedTransient, m.peerTransient[:]) {
		return m.sendError(ReasonInvalidVouch)
	}
	if !cryptoops.ConstantTimeEqual(vouchedServerPermanent, m.permanent.Public[:]) {
		return m.sendError(ReasonInvalidVouch)
	}

	peerMetadata, err := wire.DecodeProperties(metadataBytes, wire.DefaultMaxPropertiesSize)
	if err != nil {
		return m.sendError(ReasonMetadataMalformed)
	}

	m.peerPermanent = clientPermanentPublic
	m.peerPermanentKnown = true
	m.peerMetadata = peerMetadata

	if m.zapAuth != nil {
		requestID := newRequestID()
		reply, err := m.zapAuth.Authenticate(ctx, zap.Request{
			Version:   zap.Version,
			RequestID: requestID,
			Domain:    m.zapDomain,
			Address:   m.zapAddress,
			ClientKey: clientPermanentPublic,
		})
		if err != nil {
			return m.sendError(ReasonUnauthorized)
		}
		// An authenticator that echoes a request ID must echo ours.
		if reply.RequestID != "" && reply.RequestID != requestID {
			return m.sendError(ReasonUnauthorized)
		}
		if !reply.Accepted() {
			return m.sendErrorText(ReasonUnauthorized, zapDenialText(reply))
		}
	}

	m.logger.Trace().Str("command", wire.CommandInitiate).Int("len", len(input)).Msg("initiate.recv")
	return m.sendReady()
}

func (m *Machine) sendReady() ([]byte, error) {
	metadataBytes, err := m.localMetadata.Encode()
	if err != nil {
		return nil, fatal(ReasonMetadataMalformed, err)
	}
	shortNonce := cryptoops.RandomBytes(8)
	nonce := cryptoops.BuildNonce(cryptoops.LabelReady, shortNonce)
	box := cryptoops.Seal(m.sharedKeyTT, nonce, metadataBytes)

	body := make([]byte, 0, 8+len(box))
	body = append(body, shortNonce...)
	body = append(body, box...)

	frame, err := wire.BuildCommand(wire.CommandReady, body)
	if err != nil {
		return nil, fatal(ReasonMalformedFrame, err)
	}
	m.becomeConnected()
	m.logger.Trace().Str("command", wire.CommandReady).Int("len", len(frame)).Msg("ready.sent")
	return frame, nil
}

func (m *Machine) sendError(reason Reason) ([]byte, error) {
	return m.sendErrorText(reason, reason.String())
}

// sendErrorText emits an ERROR frame carrying text verbatim on the wire,
// while still classifying the local Reason() as reason. Used when the wire
// text comes from a collaborator rather than the fixed catalogue in
// reason.go, e.g. when the ZAP authenticator's own status_text becomes the
// ERROR reason.
func (m *Machine) sendErrorText(reason Reason, text string) ([]byte, error) {
	if len(text) > 255 {
		text = text[:255]
	}
	body := make([]byte, 0, 1+len(text))
	body = append(body, byte(len(text)))
	body = append(body, text...)
	frame, err := wire.BuildCommand(wire.CommandError, body)
	if err != nil {
		return nil, fatal(reason, err)
	}
	return frame, fatal(reason, nil)
}

// newRequestID produces the opaque per-request identifier echoed back in
// the ZAP reply.
func newRequestID() string {
	return hex.EncodeToString(cryptoops.RandomBytes(8))
}

// zapDenialText derives the ERROR reason text from a ZAP reply that denied
// authorization, falling back to the fixed catalogue string when the
// authenticator left status_text empty.
func zapDenialText(reply zap.Reply) string {
	if reply.StatusText != "" {
		return reply.StatusCode + " " + reply.StatusText
	}
	return ReasonUnauthorized.String()
}
