// Package domain defines the road-network entities, shadow overlay types and
// rule evaluation primitives used by roadcore.
package domain

import (
	"fmt"
	"strings"
)

// Handle is an opaque stable reference to a node, edge or connection set.
// The zero value is the empty handle.
type Handle uint64

// NoHandle is the empty handle.
const NoHandle Handle = 0

// IsEmpty reports whether h is the empty handle.
func (h Handle) IsEmpty() bool { return h == NoHandle }

func (h Handle) String() string {
	if h == NoHandle {
		return "null"
	}
	return fmt.Sprintf("#%d", uint64(h))
}

// EntityType identifies the kind of record stored in the network.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityNode identifies an intersection or endpoint.
	EntityNode EntityType = "node"
	// EntityEdge identifies a directed connection between two nodes.
	EntityEdge EntityType = "edge"
	// EntityConnectionSet identifies a generated-connection list owned by a node.
	EntityConnectionSet EntityType = "connection_set"
)

// Flags describes what an edit will do to the permanent counterpart of a shadow.
// Flags are not mutually exclusive.
type Flags uint8

const (
	FlagCreate Flags = 1 << iota
	FlagDelete
	FlagModify
	FlagReplace
	FlagCombine
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagCreate, "create"},
	{FlagDelete, "delete"},
	{FlagModify, "modify"},
	{FlagReplace, "replace"},
	{FlagCombine, "combine"},
}

// Has reports whether every bit of other is set.
func (f Flags) Has(other Flags) bool { return other != 0 && f&other == other }

// Any reports whether at least one bit of other is set.
func (f Flags) Any(other Flags) bool { return f&other != 0 }

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	parts := make([]string, 0, len(flagNames))
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseFlags converts a list of flag names into a Flags bitset.
func ParseFlags(names []string) (Flags, error) {
	var out Flags
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		found := false
		for _, fn := range flagNames {
			if fn.name == name {
				out |= fn.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown shadow flag %q", raw)
		}
	}
	return out, nil
}

// Names returns the lower-case names of the set flags.
func (f Flags) Names() []string {
	var out []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			out = append(out, fn.name)
		}
	}
	return out
}

// Shadow is the transient overlay attached to a handle touched by an edit.
type Shadow struct {
	Flags       Flags
	Predecessor Handle
}

// IsNew reports whether the shadow represents a genuinely new permanent object.
func (s Shadow) IsNew() bool {
	return s.Predecessor.IsEmpty() && !s.Flags.Any(FlagDelete|FlagReplace)
}

// KeepsOwnHandle reports whether references to the shadow stay on its own
// handle after commit instead of falling back to the predecessor.
func (s Shadow) KeepsOwnHandle() bool {
	return s.Predecessor.IsEmpty() || s.Flags.Any(FlagReplace|FlagCombine)
}

// LaneRef names one lane of an edge.
type LaneRef struct {
	Edge Handle `json:"edge"`
	Lane int    `json:"lane"`
}

// PathMethod enumerates the traffic kinds a generated connection carries.
type PathMethod uint8

const (
	MethodRoad PathMethod = 1 << iota
	MethodTrack
	MethodPedestrian
)

// GeneratedConnection is a single source-lane to target-lane pair realising an override.
type GeneratedConnection struct {
	Source LaneRef    `json:"source"`
	Target LaneRef    `json:"target"`
	Method PathMethod `json:"method,omitempty"`
	Unsafe bool       `json:"unsafe,omitempty"`
}

// ConnectionSet owns the generated connections of one override record.
type ConnectionSet struct {
	Handle      Handle                `json:"handle"`
	Owner       Handle                `json:"owner"`
	Connections []GeneratedConnection `json:"connections"`
}

// OverrideRecord names a node-local edge lane whose default routing is replaced.
// An empty ConnectionSet reserves the slot without custom routing.
type OverrideRecord struct {
	Edge          Handle `json:"edge"`
	Lane          int    `json:"lane"`
	ConnectionSet Handle `json:"connection_set"`
}

// OverrideList is the override container attached to a node.
// Order is not significant; removal swaps the last element into the hole.
type OverrideList struct {
	Records []OverrideRecord `json:"records"`
}

// IndexOf returns the index of the record for (edge, lane) or -1.
func (l *OverrideList) IndexOf(edge Handle, lane int) int {
	if l == nil {
		return -1
	}
	for i, r := range l.Records {
		if r.Edge == edge && r.Lane == lane {
			return i
		}
	}
	return -1
}

// IndexOfConnectionSet returns the index of the record referencing set or -1.
func (l *OverrideList) IndexOfConnectionSet(set Handle) int {
	if l == nil || set.IsEmpty() {
		return -1
	}
	for i, r := range l.Records {
		if r.ConnectionSet == set {
			return i
		}
	}
	return -1
}

// SwapRemove removes the record at i by moving the last record into its slot.
func (l *OverrideList) SwapRemove(i int) OverrideRecord {
	last := len(l.Records) - 1
	removed := l.Records[i]
	l.Records[i] = l.Records[last]
	l.Records = l.Records[:last]
	return removed
}

// Len returns the number of records, treating a nil list as empty.
func (l *OverrideList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Records)
}

// Clone returns a deep copy; nil stays nil.
func (l *OverrideList) Clone() *OverrideList {
	if l == nil {
		return nil
	}
	return &OverrideList{Records: append([]OverrideRecord{}, l.Records...)}
}

// Node is an intersection or endpoint of the network.
type Node struct {
	Handle    Handle        `json:"handle"`
	Overrides *OverrideList `json:"overrides,omitempty"`
	// Marker flags the node as carrying custom lane connections.
	Marker bool `json:"marker,omitempty"`
}

// Edge is a directed connection between two nodes.
type Edge struct {
	Handle Handle `json:"handle"`
	Start  Handle `json:"start"`
	End    Handle `json:"end"`
}

// Other returns the endpoint of e opposite to node, or NoHandle when node is
// not an endpoint. Self-loops return the same node.
func (e Edge) Other(node Handle) Handle {
	switch node {
	case e.Start:
		return e.End
	case e.End:
		return e.Start
	default:
		return NoHandle
	}
}

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Handle Handle
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate the mutations captured during a commit.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	// ActionTouch marks a node dirty without changing its stored shape.
	ActionTouch Action = "touch"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	Handle   Handle
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "transaction blocked by rules: " + v.Rule + ": " + v.Message
		}
	}
	return "transaction blocked by rules"
}
