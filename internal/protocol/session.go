package protocol

import (
	"bytes"
	"encoding/json"
)

// SessionKey identifies a recognition session. The zero value is the implicit
// default session used when a request carries no session id.
type SessionKey struct {
	id    string
	named bool
}

// DefaultSession returns the key of the implicit default session.
func DefaultSession() SessionKey { return SessionKey{} }

// NamedSession returns the key for an explicit session id.
func NamedSession(id string) SessionKey { return SessionKey{id: id, named: true} }

// SessionKeyFromPtr maps an optional wire id to a key.
func SessionKeyFromPtr(id *string) SessionKey {
	if id == nil {
		return DefaultSession()
	}
	return NamedSession(*id)
}

// ID returns the session id and whether the key names a session.
func (k SessionKey) ID() (string, bool) { return k.id, k.named }

func (k SessionKey) IsDefault() bool { return !k.named }

// Ptr returns the wire form of the key; nil for the default session.
func (k SessionKey) Ptr() *string {
	if !k.named {
		return nil
	}
	id := k.id
	return &id
}

func (k SessionKey) String() string {
	if !k.named {
		return "<default>"
	}
	return k.id
}

func (k SessionKey) MarshalJSON() ([]byte, error) {
	if !k.named {
		return []byte("null"), nil
	}
	return json.Marshal(k.id)
}

func (k *SessionKey) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*k = DefaultSession()
		return nil
	}
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	*k = NamedSession(id)
	return nil
}
