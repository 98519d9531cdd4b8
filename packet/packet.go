// Package packet provides the embeddable machinery concrete application
// packet types build on: header/body storage, session-id stamping, and the
// broadcast flag. It does not provide the reserved ok/error/keep-alive
// factories or Clone — those must return the application's own concrete
// type, so each application packet type implements them directly (a two or
// three line method each; see the package tests for the shape).
package packet

import "github.com/gosuda/phantomrpc"

// Base implements phantomrpc.Packet. Application packet types embed it by
// value and add whatever extra fields their wire schema needs:
//
//	type ChatPacket struct {
//	    packet.Base
//	    Data string `json:"data,omitempty"`
//	}
//
//	func (p *ChatPacket) OK() *ChatPacket {
//	    return &ChatPacket{Base: packet.New(phantomrpc.HeaderOK)}
//	}
type Base struct {
	HeaderField string          `json:"header"`
	BodyField   phantomrpc.Body `json:"body"`
}

// New returns a Base with the given header and an empty body.
func New(header string) Base {
	return Base{HeaderField: header}
}

func (p *Base) Header() string          { return p.HeaderField }
func (p *Base) Body() *phantomrpc.Body  { return &p.BodyField }
func (p *Base) SetBroadcasting()        { p.BodyField.IsBroadcastPacket = true }
func (p *Base) IsBroadcasting() bool    { return p.BodyField.IsBroadcastPacket }

func (p *Base) SessionID() (string, bool) {
	if p.BodyField.SessionID == "" {
		return "", false
	}
	return p.BodyField.SessionID, true
}

func (p *Base) SetSessionID(id string) {
	p.BodyField.SessionID = id
}

// StampError fills in the body's error_string field; paired with a concrete
// type's own error factory (MakeError in the package tests) which also sets
// the reserved header.
func (p *Base) StampError(msg string) {
	p.BodyField.ErrorString = msg
}
