// Package transport owns the persistent connection that carries streamed
// chat events. One connection is scoped to a single (conversation id,
// namespace) pair; switching either tears the connection down and dials a
// new one, which is what makes late events from an abandoned stream
// droppable instead of dangerous.
package transport

import "context"

// Namespace selects which server-side handler set a connection attaches to.
type Namespace string

const (
	// NamespaceExpert is the default expert-chat routing domain.
	NamespaceExpert Namespace = "expert"
	// NamespaceDocument is the document-grounded chat routing domain.
	NamespaceDocument Namespace = "document"
)

// Valid reports whether the namespace is one of the recognized domains.
func (n Namespace) Valid() bool {
	return n == NamespaceExpert || n == NamespaceDocument
}

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	// StateJoined is entered only after the join frame for the conversation
	// room has been written; event listeners are live from this point on.
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	default:
		return "disconnected"
	}
}

// CredentialProvider supplies the bearer credential attached on dial. How
// the credential is obtained is outside this subsystem.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a CredentialProvider returning a fixed token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}
