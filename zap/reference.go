package zap

import "context"

// AllowAll is an Authenticator that accepts every client, the behavior a
// CURVE server without ZAP configured already exhibits. It's exposed
// separately so callers can opt into the explicit-ZAP-round-trip code path
// in tests without writing their own allow-all stub.
func AllowAll() Authenticator {
	return AuthenticatorFunc(func(_ context.Context, req Request) (Reply, error) {
		return Reply{Version: Version, RequestID: req.RequestID, StatusCode: "200", StatusText: "OK"}, nil
	})
}

// DenyAll is an Authenticator that rejects every client with the given
// status code and text, useful for exercising the ZAP-denial path.
func DenyAll(statusCode, statusText string) Authenticator {
	return AuthenticatorFunc(func(_ context.Context, req Request) (Reply, error) {
		return Reply{Version: Version, RequestID: req.RequestID, StatusCode: statusCode, StatusText: statusText}, nil
	})
}

// Allowlist authorizes only the permanent public keys present in the set at
// construction time, denying everyone else with "400 Unauthorized".
type Allowlist struct {
	allowed map[[32]byte]struct{}
}

// NewAllowlist builds an Allowlist authorizing exactly the given keys.
func NewAllowlist(keys ...[32]byte) *Allowlist {
	a := &Allowlist{allowed: make(map[[32]byte]struct{}, len(keys))}
	for _, k := range keys {
		a.allowed[k] = struct{}{}
	}
	return a
}

// Authenticate implements Authenticator.
func (a *Allowlist) Authenticate(_ context.Context, req Request) (Reply, error) {
	if _, ok := a.allowed[req.ClientKey]; ok {
		return Reply{Version: Version, RequestID: req.RequestID, StatusCode: "200", StatusText: "OK"}, nil
	}
	return Reply{Version: Version, RequestID: req.RequestID, StatusCode: "400", StatusText: "Unauthorized"}, nil
}
