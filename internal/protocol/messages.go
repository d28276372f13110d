// Package protocol implements the datagram protocol spoken with scanners
package protocol

import (
	"fmt"
	"net/netip"

	"github.com/google/uuid"

	"github.com/versatilecz/evac/internal/models"
)

// Content is the payload of a scanner message. The set of implementations
// is closed, dispatch code switches over all of them.
type Content interface {
	variant() string
}

// Nope is an empty message
type Nope struct{}

// Ok acknowledges the message with UUID
type Ok struct {
	UUID uuid.UUID
}

// Error reports a failure of the message with UUID
type Error struct {
	UUID uuid.UUID
	Text string
}

// Hello is the discovery beacon broadcast by the server
type Hello struct{}

// Register announces a scanner and its hardware address
type Register struct {
	Mac models.MAC
}

// Ping is a liveness probe
type Ping struct {
	Text string
}

// Pong answers a Ping
type Pong struct {
	Text string
}

// Restart asks a scanner to reboot
type Restart struct{}

// Set pushes actuator state to a scanner. Nil fields are left untouched.
type Set struct {
	Scan   *bool
	Led    *bool
	Buzzer *bool
}

// ScanResult reports one advertisement heard by a scanner
type ScanResult struct {
	Mac  models.MAC
	RSSI int32
	Data []byte
}

func (Nope) variant() string       { return "Nope" }
func (Ok) variant() string         { return "Ok" }
func (Error) variant() string      { return "Error" }
func (Hello) variant() string      { return "Hello" }
func (Register) variant() string   { return "Register" }
func (Ping) variant() string       { return "Ping" }
func (Pong) variant() string       { return "Pong" }
func (Restart) variant() string    { return "Restart" }
func (Set) variant() string        { return "Set" }
func (ScanResult) variant() string { return "ScanResult" }

// Name returns the wire name of the content variant
func Name(c Content) string {
	if c == nil {
		return "Nope"
	}
	return c.variant()
}

// Message is the envelope of every datagram
type Message struct {
	Content Content
	UUID    uuid.UUID
}

// NewMessage wraps c in an envelope with a fresh id
func NewMessage(c Content) Message {
	return Message{Content: c, UUID: uuid.New()}
}

func (m Message) String() string {
	return fmt.Sprintf("%s(%s)", Name(m.Content), m.UUID)
}

// SetFromScanner builds the actuator push restoring a scanner's stored state
func SetFromScanner(s models.Scanner) Set {
	scan, led, buzzer := s.Scan, s.Led, s.Buzzer
	return Set{Scan: &scan, Led: &led, Buzzer: &buzzer}
}

// Outbound is a message queued for the server loop. A zero Addr means the
// configured broadcast address.
type Outbound struct {
	Target  uuid.UUID
	Addr    netip.AddrPort
	Message Message
}

// Broadcast reports whether the packet goes to the broadcast address
func (o Outbound) Broadcast() bool {
	return !o.Addr.IsValid()
}
