// Package fabric defines the contracts between the parallel routing core and
// the rest of the place-and-route tool: the netlist view, the device grid,
// the routing-resource graph, the per-connection router, timing analysis and
// delay budgets.
//
// The routing core never owns these collaborators. It consumes them through
// the interfaces here and mutates only the shared [RoutingState]: per-net
// bounding boxes, per-net route trees and per-net status flags.
//
// # Identifiers
//
// Nets are identified by [NetID] and routing-resource nodes by [RRNodeID].
// Sink pins are addressed by their 1-indexed position in the net's terminal
// list (index 0 is the source), the same index the terminal lookup and the
// route tree use.
package fabric

// NetID identifies a net in the netlist.
type NetID int

// RRNodeID identifies a node in the routing-resource graph.
type RRNodeID int

// Netlist is a read-only view of the nets to route.
type Netlist interface {
	// Nets returns all net IDs. The returned slice must not be mutated.
	Nets() []NetID
	// SinkCount returns the number of sink terminals of the net (its fanout).
	SinkCount(net NetID) int
	// PinCount returns the number of pins including the source.
	PinCount(net NetID) int
	// Terminals returns the RR nodes of the net's terminals. Index 0 is the
	// source; indices 1..SinkCount are sinks.
	Terminals(net NetID) []RRNodeID
	// IsIgnored reports whether the net should be skipped by routing.
	IsIgnored(net NetID) bool
	// IsGlobal reports whether the net is a global/clock net.
	IsGlobal(net NetID) bool
}

// Grid describes the device dimensions.
type Grid interface {
	Width() int
	Height() int
}
