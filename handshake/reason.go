package handshake

// Reason classifies why a Machine became fatally broken, and supplies the
// exact human-readable string the server puts on the wire inside ERROR.
// The catalogue is fixed so peers see stable, comparable reason text; the
// one exception is a ZAP denial, whose wire text is built from the
// authenticator's reply (see zapDenialText in server.go).
type Reason int

const (
	ReasonNone Reason = iota
	ReasonInvalidCommand
	ReasonMalformedFrame
	ReasonInvalidPadding
	ReasonCryptoFailure
	ReasonInvalidCookie
	ReasonInvalidVouch
	ReasonUnauthorized
	ReasonNonceOverflow
	ReasonMetadataOverflow
	ReasonMetadataMalformed
	ReasonPeerError
)

// String returns the exact reason text placed on the wire inside ERROR, or
// shown to local callers for a client-side failure.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonInvalidCommand:
		return "Invalid command"
	case ReasonMalformedFrame:
		return "Malformed frame"
	case ReasonInvalidPadding:
		return "Invalid padding"
	case ReasonCryptoFailure:
		return "Invalid box"
	case ReasonInvalidCookie:
		return "Invalid cookie"
	case ReasonInvalidVouch:
		return "Invalid vouch"
	case ReasonUnauthorized:
		return "Unauthorized client"
	case ReasonNonceOverflow:
		return "Nonce overflow"
	case ReasonMetadataOverflow:
		return "Metadata too large"
	case ReasonMetadataMalformed:
		return "Malformed metadata"
	case ReasonPeerError:
		return "Peer reported an error"
	default:
		return "Unknown error"
	}
}
