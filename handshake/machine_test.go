package handshake

import (
	"context"
	"testing"

	"gosuda.org/curve/cryptoops"
	"gosuda.org/curve/wire"
	"gosuda.org/curve/zap"
)

// runHandshake drives client and server to completion by ping-ponging
// Execute output straight into the peer's Execute input, the same
// synchronous sequencing a real transport would impose.
func runHandshake(t *testing.T, client, server *Machine) {
	t.Helper()
	ctx := context.Background()

	out := client.Execute(ctx, nil) // HELLO
	for i := 0; i < 10 && out != nil; i++ {
		out = server.Execute(ctx, out)
		if out == nil {
			break
		}
		out = client.Execute(ctx, out)
	}
	if client.Exception() {
		t.Fatalf("client fatal: %s", client.Reason())
	}
	if server.Exception() {
		t.Fatalf("server fatal: %s", server.Reason())
	}
	if !client.Connected() || !server.Connected() {
		t.Fatalf("handshake did not complete: client.connected=%v server.connected=%v", client.Connected(), server.Connected())
	}
}

func newPair(t *testing.T, zapAuth zap.Authenticator) (client, server *Machine, serverCred cryptoops.Credential) {
	t.Helper()
	clientCred, err := cryptoops.NewCredential()
	if err != nil {
		t.Fatalf("client credential: %v", err)
	}
	serverCred, err = cryptoops.NewCredential()
	if err != nil {
		t.Fatalf("server credential: %v", err)
	}
	client, err = NewClient(clientCred, serverCred.Public)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	server, err = NewServer(serverCred, zapAuth)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return client, server, serverCred
}

func TestCleanHandshake(t *testing.T) {
	client, server, _ := newPair(t, nil)
	runHandshake(t, client, server)

	if _, ok := client.SharedKey(); !ok {
		t.Fatal("client missing shared key after connect")
	}
	if _, ok := server.SharedKey(); !ok {
		t.Fatal("server missing shared key after connect")
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	clientCred, _ := cryptoops.NewCredential()
	serverCred, _ := cryptoops.NewCredential()
	client, err := NewClient(clientCred, serverCred.Public)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	server, err := NewServer(serverCred, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	client.SetMetadata("Identity", []byte("alice"))
	server.SetMetadata("Socket-Type", []byte("PAIR"))

	runHandshake(t, client, server)

	v, ok := server.Metadata().GetString("identity")
	if !ok || v != "alice" {
		t.Fatalf("server-observed client metadata = (%q, %v), want (alice, true)", v, ok)
	}
	v, ok = client.Metadata().GetString("socket-type")
	if !ok || v != "PAIR" {
		t.Fatalf("client-observed server metadata = (%q, %v), want (PAIR, true)", v, ok)
	}
}

func TestWrongPinnedServerKeyIsRejected(t *testing.T) {
	clientCred, _ := cryptoops.NewCredential()
	serverCred, _ := cryptoops.NewCredential()
	wrongCred, _ := cryptoops.NewCredential()

	client, err := NewClient(clientCred, wrongCred.Public) // client pins the WRONG server key
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	server, err := NewServer(serverCred, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ctx := context.Background()
	out := client.Execute(ctx, nil)
	out = server.Execute(ctx, out)
	if server.Exception() {
		// The HELLO box won't even open under the key the server derives
		// against its own permanent key, since the client sealed it to a
		// different permanent public key than the server holds.
		return
	}
	out = client.Execute(ctx, out)
	if !client.Exception() {
		t.Fatal("expected client to reach exception when the pinned server key is wrong")
	}
}

// TestSubstitutedServerPermanentKeyFailsVouch: the vouch binds the client's
// transient key to the server's permanent key, specifically so that a
// malicious server
// substituting its own permanent key cannot complete the handshake. We
// play the malicious server by hand-building an INITIATE whose vouch is
// authentic (sealed with the real client/server long-term shared key) but
// whose plaintext names an attacker's permanent key instead of the real
// server's; the honest server must still reject it.
func TestSubstitutedServerPermanentKeyFailsVouch(t *testing.T) {
	clientCred, _ := cryptoops.NewCredential()
	serverCred, _ := cryptoops.NewCredential()
	maliciousCred, _ := cryptoops.NewCredential() // the key a malicious server substitutes

	client, err := NewClient(clientCred, serverCred.Public)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	honestServer, err := NewServer(serverCred, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ctx := context.Background()
	hello := client.Execute(ctx, nil)
	welcome := honestServer.Execute(ctx, hello)
	if honestServer.Exception() {
		t.Fatalf("server fatal on HELLO: %s", honestServer.Reason())
	}

	// Open WELCOME ourselves (mirroring handleWelcome) to recover the
	// server's transient key and cookie without advancing client's own
	// state machine, so we can hand-build a substitute INITIATE instead.
	name, body, err := wire.SplitCommand(welcome)
	if err != nil || name != wire.CommandWelcome {
		t.Fatalf("unexpected welcome frame: err=%v name=%q", err, name)
	}
	welcomeShortNonce := body[:16]
	welcomeBox := body[16:]
	sharedHelloKey := cryptoops.Precompute(&client.peerPermanent, &client.transient.Secret)
	welcomeNonce := cryptoops.BuildNonce(cryptoops.LabelWelcome, welcomeShortNonce)
	welcomePlaintext, err := cryptoops.Open(sharedHelloKey, welcomeNonce, welcomeBox)
	if err != nil {
		t.Fatalf("open welcome: %v", err)
	}
	serverTransientPublic := [cryptoops.KeySize]byte{}
	copy(serverTransientPublic[:], welcomePlaintext[:cryptoops.KeySize])
	cookie := welcomePlaintext[cryptoops.KeySize:]
	sharedKeyTT := cryptoops.Precompute(&serverTransientPublic, &client.transient.Secret)

	// Vouch sealed under the real client/server long-term shared key, but
	// binding the ATTACKER's permanent key instead of the real server's.
	vouchShortNonce := cryptoops.RandomBytes(16)
	vouchNonce := cryptoops.BuildNonce(cryptoops.LabelVouch, vouchShortNonce)
	vouchSharedKey := cryptoops.Precompute(&serverCred.Public, &client.permanent.Secret)
	vouchPlaintext := append(append([]byte{}, client.transient.Public[:]...), maliciousCred.Public[:]...)
	vouchBox := cryptoops.Seal(vouchSharedKey, vouchNonce, vouchPlaintext)

	metadataBytes, err := client.localMetadata.Encode()
	if err != nil {
		t.Fatalf("encode metadata: %v", err)
	}

	innerPlaintext := make([]byte, 0, cryptoops.KeySize+16+len(vouchBox)+len(metadataBytes))
	innerPlaintext = append(innerPlaintext, client.permanent.Public[:]...)
	innerPlaintext = append(innerPlaintext, vouchShortNonce...)
	innerPlaintext = append(innerPlaintext, vouchBox...)
	innerPlaintext = append(innerPlaintext, metadataBytes...)

	initiateShortNonce := cryptoops.RandomBytes(8)
	initiateNonce := cryptoops.BuildNonce(cryptoops.LabelInitiate, initiateShortNonce)
	outerBox := cryptoops.Seal(sharedKeyTT, initiateNonce, innerPlaintext)

	initiateBody := make([]byte, 0, len(cookie)+8+len(outerBox))
	initiateBody = append(initiateBody, cookie...)
	initiateBody = append(initiateBody, initiateShortNonce...)
	initiateBody = append(initiateBody, outerBox...)

	initiateFrame, err := wire.BuildCommand(wire.CommandInitiate, initiateBody)
	if err != nil {
		t.Fatalf("build initiate: %v", err)
	}

	honestServer.Execute(ctx, initiateFrame)
	if !honestServer.Exception() {
		t.Fatal("expected honest server to reject a vouch binding a substituted server permanent key")
	}
	if honestServer.Reason() != ReasonInvalidVouch {
		t.Fatalf("reason = %s, want Invalid vouch", honestServer.Reason())
	}
}

func TestTamperedInitiateCookieIsRejected(t *testing.T) {
	client, server, _ := newPair(t, nil)
	ctx := context.Background()

	hello := client.Execute(ctx, nil)
	welcome := server.Execute(ctx, hello)
	if server.Exception() {
		t.Fatalf("server fatal on HELLO: %s", server.Reason())
	}
	initiate := client.Execute(ctx, welcome)
	if client.Exception() {
		t.Fatalf("client fatal on WELCOME: %s", client.Reason())
	}

	// Flip a bit inside the cookie field: frame = 1-byte name length (1) +
	// "INITIATE" (8) + cookie (96) + ...; pick an offset well inside it.
	tampered := append([]byte{}, initiate...)
	tampered[1+8+20] ^= 0x01

	out := server.Execute(ctx, tampered)
	if !server.Exception() {
		t.Fatal("expected server to reject a tampered INITIATE")
	}
	if server.Reason() != ReasonInvalidCookie && server.Reason() != ReasonInvalidVouch && server.Reason() != ReasonCryptoFailure {
		t.Fatalf("unexpected reason: %s", server.Reason())
	}
	_ = out
}

func TestZAPDenialRejectsInitiate(t *testing.T) {
	deny := zap.DenyAll("400", "Unauthorized")
	client, server, _ := newPair(t, deny)
	ctx := context.Background()

	hello := client.Execute(ctx, nil)
	welcome := server.Execute(ctx, hello)
	initiate := client.Execute(ctx, welcome)

	errFrame := server.Execute(ctx, initiate)
	if !server.Exception() {
		t.Fatal("expected server to reach exception on ZAP denial")
	}
	if server.Reason() != ReasonUnauthorized {
		t.Fatalf("reason = %s, want Unauthorized client", server.Reason())
	}
	if errFrame == nil {
		t.Fatal("expected server to emit an ERROR frame on ZAP denial")
	}

	client.Execute(ctx, errFrame)
	if !client.Exception() {
		t.Fatal("expected client to reach exception on receiving ERROR")
	}
}

func TestTamperedHelloPaddingIsRejected(t *testing.T) {
	client, server, _ := newPair(t, nil)
	ctx := context.Background()

	hello := client.Execute(ctx, nil)
	// Flip a bit inside the 72-byte zero-padding region, right after the
	// 1-byte name length + "HELLO" + 2-byte version.
	tampered := append([]byte{}, hello...)
	tampered[1+5+2] ^= 0x01

	out := server.Execute(ctx, tampered)
	if !server.Exception() {
		t.Fatal("expected server to reject tampered HELLO padding")
	}
	if server.Reason() != ReasonInvalidPadding {
		t.Fatalf("reason = %s, want Invalid padding", server.Reason())
	}
	if out == nil {
		t.Fatal("expected server to emit an ERROR frame")
	}
}

func TestSharedCookieKeyAcrossServers(t *testing.T) {
	clientCred, _ := cryptoops.NewCredential()
	serverCred, _ := cryptoops.NewCredential()

	var cookieKey [cryptoops.KeySize]byte
	copy(cookieKey[:], cryptoops.RandomBytes(cryptoops.KeySize))

	client, err := NewClient(clientCred, serverCred.Public)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	server, err := NewServerWithCookieKey(serverCred, nil, cookieKey)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if server.cookieKey != cookieKey {
		t.Fatal("server did not adopt the supplied cookie key")
	}
	runHandshake(t, client, server)
}

func TestDestroyWipesKeysAndForcesException(t *testing.T) {
	client, server, _ := newPair(t, nil)
	runHandshake(t, client, server)

	client.Destroy()
	if !client.Exception() {
		t.Fatal("expected Destroy to set the exception flag")
	}
	if client.permanent.Secret != ([cryptoops.KeySize]byte{}) {
		t.Fatal("expected Destroy to wipe the permanent secret key")
	}
}

func TestZAPRequestCarriesConfiguredFields(t *testing.T) {
	var captured zap.Request
	auth := zap.AuthenticatorFunc(func(_ context.Context, req zap.Request) (zap.Reply, error) {
		captured = req
		return zap.Reply{Version: zap.Version, RequestID: req.RequestID, StatusCode: "200", StatusText: "OK"}, nil
	})

	clientCred, _ := cryptoops.NewCredential()
	serverCred, _ := cryptoops.NewCredential()
	client, err := NewClient(clientCred, serverCred.Public)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	server, err := NewServer(serverCred, auth)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	server.SetZAPDomain("global")
	server.SetPeerAddress("192.0.2.7")

	runHandshake(t, client, server)

	if captured.Version != zap.Version {
		t.Fatalf("version = %q, want %q", captured.Version, zap.Version)
	}
	if captured.RequestID == "" {
		t.Fatal("request ID is empty")
	}
	if captured.Domain != "global" {
		t.Fatalf("domain = %q, want global", captured.Domain)
	}
	if captured.Address != "192.0.2.7" {
		t.Fatalf("address = %q, want 192.0.2.7", captured.Address)
	}
	if captured.ClientKey != clientCred.Public {
		t.Fatal("client key does not match the client's permanent public key")
	}
}

func TestSetPermakeyRejectedAfterHandshakeStart(t *testing.T) {
	client, _, _ := newPair(t, nil)
	replacement, _ := cryptoops.NewCredential()

	if err := client.SetPermakey(replacement); err != nil {
		t.Fatalf("pre-handshake SetPermakey: %v", err)
	}
	client.Execute(context.Background(), nil) // HELLO: handshake has started
	if err := client.SetPermakey(replacement); err != ErrConfigurationClosed {
		t.Fatalf("err = %v, want ErrConfigurationClosed", err)
	}
}

func TestPeerMetadataEmptyBeforeConnected(t *testing.T) {
	clientCred, _ := cryptoops.NewCredential()
	serverCred, _ := cryptoops.NewCredential()
	client, err := NewClient(clientCred, serverCred.Public)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	server, err := NewServer(serverCred, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	client.SetMetadata("Identity", []byte("alice"))

	ctx := context.Background()
	hello := client.Execute(ctx, nil)
	if len(server.Metadata()) != 0 {
		t.Fatal("server metadata non-empty before connected")
	}
	welcome := server.Execute(ctx, hello)
	initiate := client.Execute(ctx, welcome)
	if len(client.Metadata()) != 0 {
		t.Fatal("client metadata non-empty before connected")
	}
	server.Execute(ctx, initiate)
	if !server.Connected() {
		t.Fatalf("server not connected: %s", server.Reason())
	}
	if v, ok := server.Metadata().GetString("identity"); !ok || v != "alice" {
		t.Fatalf("identity = (%q, %v), want (alice, true)", v, ok)
	}
}

func TestExceptionMachineEmitsNothing(t *testing.T) {
	client, server, _ := newPair(t, nil)
	ctx := context.Background()

	hello := client.Execute(ctx, nil)
	tampered := append([]byte{}, hello...)
	tampered[1+5+2] ^= 0x01
	server.Execute(ctx, tampered)
	if !server.Exception() {
		t.Fatal("expected server exception after tampered HELLO")
	}
	if out := server.Execute(ctx, hello); out != nil {
		t.Fatal("machine with exception set still produced output")
	}
}

func TestServerLearnsClientPermanentKey(t *testing.T) {
	clientCred, _ := cryptoops.NewCredential()
	serverCred, _ := cryptoops.NewCredential()
	client, err := NewClient(clientCred, serverCred.Public)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	server, err := NewServer(serverCred, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	if _, known := server.PeerPermanentKey(); known {
		t.Fatal("server claims to know the client permanent key before INITIATE")
	}
	runHandshake(t, client, server)
	key, known := server.PeerPermanentKey()
	if !known || key != clientCred.Public {
		t.Fatalf("server peer permanent key = (%v, %v), want client's", known, key == clientCred.Public)
	}
}
