package handshake

import (
	"gosuda.org/curve/cryptoops"
	"gosuda.org/curve/wire"
)

const helloPaddingSize = 72
const helloZeroProofSize = 64

// executeClient drives the client-side path: HELLO → (await WELCOME) →
// INITIATE → (await READY) → connected, or ERROR → expect_nothing.
func (m *Machine) executeClient(input []byte) ([]byte, error) {
	switch m.state {
	case StateSendHello:
		return m.sendHello()
	case StateExpectWelcome:
		return m.handleWelcome(input)
	case StateExpectReady:
		return m.handleReadyOrError(input)
	default:
		// Connected or expect_nothing: no further handshake commands are
		// accepted. Syntactically present but semantically stray input.
		return nil, discard(errUnexpectedInState(m.state))
	}
}

// --- Step 1: HELLO ---

func (m *Machine) sendHello() ([]byte, error) {
	shortNonce := cryptoops.RandomBytes(8)
	body := make([]byte, 0, 2+helloPaddingSize+cryptoops.KeySize+8+helloZeroProofSize+cryptoops.TagSize)
	body = append(body, 1, 0) // version
	body = append(body, make([]byte, helloPaddingSize)...)
	body = append(body, m.transient.Public[:]...)
	body = append(body, shortNonce...)

	nonce := cryptoops.BuildNonce(cryptoops.LabelHello, shortNonce)
	sharedHelloKey := cryptoops.Precompute(&m.peerPermanent, &m.transient.Secret)
	box := cryptoops.Seal(sharedHelloKey, nonce, make([]byte, helloZeroProofSize))
	body = append(body, box...)

	frame, err := wire.BuildCommand(wire.CommandHello, body)
	if err != nil {
		return nil, fatal(ReasonMalformedFrame, err)
	}
	m.state = StateExpectWelcome
	m.logger.Trace().Str("command", wire.CommandHello).Int("len", len(frame)).Msg("hello.sent")
	return frame, nil
}

// --- Step 2: WELCOME ---

func (m *Machine) handleWelcome(input []byte) ([]byte, error) {
	name, body, err := wire.SplitCommand(input)
	if err != nil {
		return nil, discard(err)
	}
	if name == wire.CommandError {
		return m.handlePeerError(body)
	}
	if !wire.IsKnownCommand(name) {
		return nil, discard(errUnexpectedCommand(name, wire.CommandWelcome))
	}
	if name != wire.CommandWelcome {
		return nil, fatal(ReasonInvalidCommand, errUnexpectedCommand(name, wire.CommandWelcome))
	}

	const welcomeBoxSize = cryptoops.KeySize + 96 + cryptoops.TagSize
	if len(body) != 16+welcomeBoxSize {
		return nil, fatal(ReasonMalformedFrame, errWrongLength("WELCOME body", len(body)))
	}
	shortNonce := body[:16]
	box := body[16:]

	sharedHelloKey := cryptoops.Precompute(&m.peerPermanent, &m.transient.Secret)
	nonce := cryptoops.BuildNonce(cryptoops.LabelWelcome, shortNonce)
	plaintext, err := cryptoops.Open(sharedHelloKey, nonce, box)
	if err != nil {
		return nil, fatal(ReasonCryptoFailure, err)
	}

	serverTransientPublic := [cryptoops.KeySize]byte{}
	copy(serverTransientPublic[:], plaintext[:cryptoops.KeySize])
	cookie := plaintext[cryptoops.KeySize:]

	m.peerTransient = serverTransientPublic
	m.peerTransientKnown = true
	m.sharedKeyTT = cryptoops.Precompute(&m.peerTransient, &m.transient.Secret)

	m.logger.Trace().Str("command", wire.CommandWelcome).Int("len", len(input)).Msg("welcome.recv")
	return m.sendInitiate(cookie)
}

// --- Step 2 (continued): INITIATE ---

func (m *Machine) sendInitiate(cookie []byte) ([]byte, error) {
	vouchShortNonce := cryptoops.RandomBytes(16)
	vouchNonce := cryptoops.BuildNonce(cryptoops.LabelVouch, vouchShortNonce)
	vouchSharedKey := cryptoops.Precompute(&m.peerPermanent, &m.permanent.Secret)
	vouchPlaintext := append(append([]byte{}, m.transient.Public[:]...), m.peerPermanent[:]...)
	vouchBox := cryptoops.Seal(vouchSharedKey, vouchNonce, vouchPlaintext)

	metadataBytes, err := m.localMetadata.Encode()
	if err != nil {
		return nil, fatal(ReasonMetadataMalformed, err)
	}

	innerPlaintext := make([]byte, 0, cryptoops.KeySize+16+len(vouchBox)+len(metadataBytes))
	innerPlaintext = append(innerPlaintext, m.permanent.Public[:]...)
	innerPlaintext = append(innerPlaintext, vouchShortNonce...)
	innerPlaintext = append(innerPlaintext, vouchBox...)
	innerPlaintext = append(innerPlaintext, metadataBytes...)

	initiateShortNonce := cryptoops.RandomBytes(8)
	initiateNonce := cryptoops.BuildNonce(cryptoops.LabelInitiate, initiateShortNonce)
	outerBox := cryptoops.Seal(m.sharedKeyTT, initiateNonce, innerPlaintext)

	body := make([]byte, 0, len(cookie)+8+len(outerBox))
	body = append(body, cookie...)
	body = append(body, initiateShortNonce...)
	body = append(body, outerBox...)

	frame, err := wire.BuildCommand(wire.CommandInitiate, body)
	if err != nil {
		return nil, fatal(ReasonMalformedFrame, err)
	}
	m.state = StateExpectReady
	m.logger.Trace().Str("command", wire.CommandInitiate).Int("len", len(frame)).Msg("initiate.sent")
	return frame, nil
}

// --- Step 3: READY / ERROR ---

func (m *Machine) handleReadyOrError(input []byte) ([]byte, error) {
	name, body, err := wire.SplitCommand(input)
	if err != nil {
		return nil, discard(err)
	}
	if name == wire.CommandError {
		return m.handlePeerError(body)
	}
	if !wire.IsKnownCommand(name) {
		return nil, discard(errUnexpectedCommand(name, wire.CommandReady))
	}
	if name != wire.CommandReady {
		return nil, fatal(ReasonInvalidCommand, errUnexpectedCommand(name, wire.CommandReady))
	}
	if len(body) < 8+cryptoops.TagSize {
		return nil, fatal(ReasonMalformedFrame, errWrongLength("READY body", len(body)))
	}
	shortNonce := body[:8]
	box := body[8:]

	nonce := cryptoops.BuildNonce(cryptoops.LabelReady, shortNonce)
	plaintext, err := cryptoops.Open(m.sharedKeyTT, nonce, box)
	if err != nil {
		return nil, fatal(ReasonCryptoFailure, err)
	}

	peerMetadata, err := wire.DecodeProperties(plaintext, wire.DefaultMaxPropertiesSize)
	if err != nil {
		return nil, fatal(ReasonMetadataMalformed, err)
	}
	m.peerMetadata = peerMetadata
	m.becomeConnected()
	m.logger.Trace().Str("command", wire.CommandReady).Int("len", len(input)).Msg("ready.recv")
	return nil, nil
}

func (m *Machine) handlePeerError(body []byte) ([]byte, error) {
	reasonText, err := decodeErrorReason(body)
	if err != nil {
		return nil, discard(err)
	}
	m.logger.Debug().Str("reason", reasonText).Msg("error.recv")
	return nil, fatal(ReasonPeerError, errPeerReported(reasonText))
}

func decodeErrorReason(body []byte) (string, error) {
	if len(body) < 1 {
		return "", errWrongLength("ERROR body", len(body))
	}
	n := int(body[0])
	if len(body) != 1+n {
		return "", errWrongLength("ERROR reason", len(body))
	}
	return string(body[1:]), nil
}

// helpers shared with server.go live in errors.go
