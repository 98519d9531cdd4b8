// Package phantomrpc defines the interfaces applications implement to plug
// their own packet schema, session type, and shared resources into the
// listener, client, and relay packages.
package phantomrpc

import "time"

// Reserved headers. Every concrete packet type's ok/error/keep-alive
// factories must use exactly these strings; everything else is
// application-defined.
const (
	HeaderOK        = "OK"
	HeaderError     = "ERROR"
	HeaderKeepAlive = "KEEPALIVE"
)

// Body is the open record carried by every packet. All fields are optional;
// applications extend it with their own fields by embedding a type that
// also holds a Body.
type Body struct {
	Username               string `json:"username,omitempty"`
	Password               string `json:"password,omitempty"`
	SessionID              string `json:"session_id,omitempty"`
	ErrorString            string `json:"error_string,omitempty"`
	IsFirstKeepAlivePacket bool   `json:"is_first_keep_alive_packet,omitempty"`
	IsBroadcastPacket      bool   `json:"is_broadcast_packet,omitempty"`
}

// Packet is the contract every application packet type must satisfy. The
// reserved factories (ok/error/keep-alive) and Clone are intentionally left
// out of this interface: they need to return the application's own concrete
// type, not Packet, so the listener and client packages take them as
// explicit constructor functions rather than interface methods (see
// server.Config and client.Config).
type Packet interface {
	Header() string
	Body() *Body
	SessionID() (id string, ok bool)
	SetSessionID(id string)
	SetBroadcasting()
	IsBroadcasting() bool
}

// Session is the contract every application session type must satisfy.
type Session interface {
	ID() string
	CreatedAt() int64
	Lifespan() time.Duration
}

// IsExpired is the derived predicate every Session gets for free:
// now >= CreatedAt()+Lifespan().
func IsExpired(s Session) bool {
	return time.Now().Unix() >= s.CreatedAt()+int64(s.Lifespan().Seconds())
}

// Resource is the marker interface for the single shared resource instance
// a listener hands to every handler. It carries no methods of its own —
// applications define whatever shape they need and the listener only ever
// stores and hands back a pointer to it.
type Resource any
