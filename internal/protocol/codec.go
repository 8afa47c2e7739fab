package protocol

import (
	"encoding/json"
	"fmt"
)

// ProtocolError reports a frame that could not be decoded into a well-formed
// Message. It is reported back over the wire as Error{protocol_error} and
// counted against the session's error budget; it never carries internal
// detail to the remote peer.
type ProtocolError struct {
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Detail)
}

// Encode serializes the message into a single text frame.
func Encode(m *Message) ([]byte, error) {
	if m == nil {
		return nil, &ProtocolError{Detail: "nil message"}
	}
	if !knownType(m.Type) {
		return nil, &ProtocolError{Detail: fmt.Sprintf("unknown message type %q", m.Type)}
	}
	return json.Marshal(m)
}

// Decode parses a single text frame into a Message. Unknown types and
// missing required fields fail with *ProtocolError; no partially decoded
// value is ever returned.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &ProtocolError{Detail: "malformed frame"}
	}
	if !knownType(m.Type) {
		return nil, &ProtocolError{Detail: fmt.Sprintf("unknown message type %q", m.Type)}
	}
	if err := validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

func knownType(t Type) bool {
	switch t {
	case TypeLogin, TypeLoginOk, TypeLoginFailed,
		TypeCallOffer, TypeCallAnswer, TypeCallCandidate, TypeCallHangup,
		TypePing, TypePong, TypeError, TypeDisconnect:
		return true
	default:
		return false
	}
}

// validate checks the required fields of each variant.
func validate(m *Message) error {
	missing := func(field string) error {
		return &ProtocolError{Detail: fmt.Sprintf("%s: missing %s", m.Type, field)}
	}
	switch m.Type {
	case TypeLogin:
		if m.Token == "" {
			return missing("token")
		}
	case TypeLoginOk:
		if m.UserID == "" {
			return missing("user_id")
		}
	case TypeLoginFailed, TypeError, TypeDisconnect:
		if m.Reason == "" {
			return missing("reason")
		}
	case TypeCallOffer, TypeCallAnswer:
		if m.PeerID == "" {
			return missing("peer_id")
		}
		if m.SDP == "" {
			return missing("sdp")
		}
	case TypeCallCandidate:
		if m.PeerID == "" {
			return missing("peer_id")
		}
		if m.Candidate == "" {
			return missing("candidate")
		}
	case TypeCallHangup:
		if m.PeerID == "" {
			return missing("peer_id")
		}
	case TypePing, TypePong:
		if m.Nonce == "" {
			return missing("nonce")
		}
	}
	return nil
}
