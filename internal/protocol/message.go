package protocol

// Type discriminates the message variants on the wire.
type Type string

const (
	TypeLogin         Type = "login"
	TypeLoginOk       Type = "login_ok"
	TypeLoginFailed   Type = "login_failed"
	TypeCallOffer     Type = "call_offer"
	TypeCallAnswer    Type = "call_answer"
	TypeCallCandidate Type = "call_candidate"
	TypeCallHangup    Type = "call_hangup"
	TypePing          Type = "ping"
	TypePong          Type = "pong"
	TypeError         Type = "error"
	TypeDisconnect    Type = "disconnect"
)

// Reason values carried by LoginFailed, CallHangup, Error and Disconnect.
// Clients must treat unknown reasons as opaque strings so new values can be
// added without a protocol rev.
const (
	ReasonInvalidToken           = "invalid_token"
	ReasonExpectedLogin          = "expected_login"
	ReasonUnexpectedMessage      = "unexpected_message"
	ReasonProtocolError          = "protocol_error"
	ReasonPeerOffline            = "peer_offline"
	ReasonPeerBackpressured      = "peer_backpressured"
	ReasonReplacedByNewerSession = "replaced_by_newer_session"
	ReasonTimeout                = "timeout"
	ReasonTerminated             = "terminated"
	ReasonServerShutdown         = "server_shutdown"
)

// Message is the tagged variant exchanged between signaling client and
// server. Type selects the variant; the remaining fields carry that
// variant's payload and are empty otherwise. SDP and Candidate are opaque
// blobs the server relays without inspection.
type Message struct {
	Type Type `json:"type"`

	// Login
	Token string `json:"token,omitempty"`

	// LoginOk
	UserID string `json:"user_id,omitempty"`

	// CallOffer, CallAnswer, CallCandidate, CallHangup. On messages sent
	// by a client, PeerID names the target; on messages delivered by the
	// server it names the sender.
	PeerID    string `json:"peer_id,omitempty"`
	SDP       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"`

	// Ping, Pong
	Nonce string `json:"nonce,omitempty"`

	// LoginFailed, CallHangup, Error, Disconnect
	Reason string `json:"reason,omitempty"`
}

// Login constructs a Login message.
func Login(token string) *Message { return &Message{Type: TypeLogin, Token: token} }

// LoginOk constructs a LoginOk message.
func LoginOk(userID string) *Message { return &Message{Type: TypeLoginOk, UserID: userID} }

// LoginFailed constructs a LoginFailed message.
func LoginFailed(reason string) *Message { return &Message{Type: TypeLoginFailed, Reason: reason} }

// CallOffer constructs a CallOffer message.
func CallOffer(peerID, sdp string) *Message {
	return &Message{Type: TypeCallOffer, PeerID: peerID, SDP: sdp}
}

// CallAnswer constructs a CallAnswer message.
func CallAnswer(peerID, sdp string) *Message {
	return &Message{Type: TypeCallAnswer, PeerID: peerID, SDP: sdp}
}

// CallCandidate constructs a CallCandidate message.
func CallCandidate(peerID, candidate string) *Message {
	return &Message{Type: TypeCallCandidate, PeerID: peerID, Candidate: candidate}
}

// CallHangup constructs a CallHangup message.
func CallHangup(peerID, reason string) *Message {
	return &Message{Type: TypeCallHangup, PeerID: peerID, Reason: reason}
}

// Ping constructs a protocol-level Ping message.
func Ping(nonce string) *Message { return &Message{Type: TypePing, Nonce: nonce} }

// Pong constructs the reply to a Ping.
func Pong(nonce string) *Message { return &Message{Type: TypePong, Nonce: nonce} }

// Error constructs an Error message.
func Error(reason string) *Message { return &Message{Type: TypeError, Reason: reason} }

// Disconnect constructs a Disconnect message.
func Disconnect(reason string) *Message { return &Message{Type: TypeDisconnect, Reason: reason} }

// IsCallRelay reports whether the message is one of the call variants the
// server relays between peers.
func (m *Message) IsCallRelay() bool {
	switch m.Type {
	case TypeCallOffer, TypeCallAnswer, TypeCallCandidate, TypeCallHangup:
		return true
	default:
		return false
	}
}
