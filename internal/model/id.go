package model

import (
	"github.com/google/uuid"
)

type idNamespace uint8

const (
	namespaceServer idNamespace = iota + 1
	namespaceProvisional
	namespaceLocal
)

// MessageID identifies a message either by a client-allocated provisional
// token or by the id the server assigned. The two namespaces never compare
// equal, even when the underlying strings match.
type MessageID struct {
	ns    idNamespace
	value string
}

// ServerID wraps an authoritative id issued by the message service.
func ServerID(id string) MessageID {
	return MessageID{ns: namespaceServer, value: id}
}

// ProvisionalID wraps a client-allocated token.
func ProvisionalID(token string) MessageID {
	return MessageID{ns: namespaceProvisional, value: token}
}

// NewProvisionalID allocates a fresh provisional id.
func NewProvisionalID() MessageID {
	return ProvisionalID(uuid.Must(uuid.NewV7()).String())
}

// NewLocalID allocates an id for a notice that never reaches the server.
func NewLocalID() MessageID {
	return MessageID{ns: namespaceLocal, value: uuid.NewString()}
}

// IsProvisional reports whether the id has not been confirmed yet.
func (id MessageID) IsProvisional() bool {
	return id.ns == namespaceProvisional
}

// IsServer reports whether the id was issued by the service.
func (id MessageID) IsServer() bool {
	return id.ns == namespaceServer
}

// IsLocal reports whether the id belongs to a client-only notice.
func (id MessageID) IsLocal() bool {
	return id.ns == namespaceLocal
}

// IsZero reports whether the id is unset.
func (id MessageID) IsZero() bool {
	return id.ns == 0
}

// Value returns the raw token or server id.
func (id MessageID) Value() string {
	return id.value
}

func (id MessageID) String() string {
	switch id.ns {
	case namespaceProvisional:
		return "provisional:" + id.value
	case namespaceServer:
		return id.value
	case namespaceLocal:
		return "local:" + id.value
	}
	return ""
}
