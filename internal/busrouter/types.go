// Package busrouter implements the two-stage in-process message fabric
// described in §4.1: a frontdesk that handles registration and unicast, and
// a broadcaster that owns the role/event indexes and fans out the rest.
package busrouter

import "fmt"

// ModuleName uniquely identifies a registered module.
type ModuleName string

// RoleTag identifies a role a module plays (inter-node network, user
// interface, block producer, ...).
type RoleTag string

// EventTag identifies a kind of event a module may subscribe to.
type EventTag string

// SelectorKind distinguishes the four ways a message can be addressed.
type SelectorKind int

const (
	SelAll SelectorKind = iota
	SelOne
	SelRole
	SelEvent
)

// Selector is the recipient half of a Message, per §6's envelope grammar.
type Selector struct {
	Kind   SelectorKind
	Target ModuleName // valid when Kind == SelOne
	Role   RoleTag    // valid when Kind == SelRole
	Event  EventTag   // valid when Kind == SelEvent
}

func All() Selector               { return Selector{Kind: SelAll} }
func One(m ModuleName) Selector   { return Selector{Kind: SelOne, Target: m} }
func ForRole(r RoleTag) Selector  { return Selector{Kind: SelRole, Role: r} }
func ForEvent(e EventTag) Selector { return Selector{Kind: SelEvent, Event: e} }

func (s Selector) String() string {
	switch s.Kind {
	case SelAll:
		return "All"
	case SelOne:
		return fmt.Sprintf("One(%s)", s.Target)
	case SelRole:
		return fmt.Sprintf("Role(%s)", s.Role)
	case SelEvent:
		return fmt.Sprintf("Event(%s)", s.Event)
	default:
		return "Unknown"
	}
}

// poolKey returns the key this selector pools under during the grace
// window. Only Role and Event selectors pool under a keyed bucket; One
// pools under its target name; All never pools.
func (s Selector) poolKey() string {
	switch s.Kind {
	case SelRole:
		return "role:" + string(s.Role)
	case SelEvent:
		return "event:" + string(s.Event)
	default:
		return ""
	}
}

// PayloadKind distinguishes the envelope's content per §6.
type PayloadKind int

const (
	PKRequest PayloadKind = iota
	PKResponse
	PKEvent
	PKStop
	PKText
	PKBinary
	PKSaveModuleConf
	PKEndpoints
)

// Payload is the content half of a Message.
type Payload struct {
	Kind PayloadKind

	// Request / Response
	From    ModuleName
	To      ModuleName
	ReqID   string
	Content any

	// Event
	EventKind EventTag

	// Text / Binary
	Text   string
	Binary []byte

	// SaveModuleConf
	ModuleConfName string
	ModuleConfJSON []byte

	// Endpoints
	Endpoints []string
}

// Message is the envelope carried over the bus.
type Message struct {
	Selector Selector
	Payload  Payload
}

func Request(from, to ModuleName, reqID string, content any) Payload {
	return Payload{Kind: PKRequest, From: from, To: to, ReqID: reqID, Content: content}
}

func Response(from, to ModuleName, reqID string, content any) Payload {
	return Payload{Kind: PKResponse, From: from, To: to, ReqID: reqID, Content: content}
}

func Event(kind EventTag, content any) Payload {
	return Payload{Kind: PKEvent, EventKind: kind, Content: content}
}

func Stop() Payload { return Payload{Kind: PKStop} }
