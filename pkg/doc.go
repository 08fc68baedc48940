// Package pkg provides the core libraries for the gridroute parallel router.
//
// # Overview
//
// gridroute routes the nets of a placed FPGA design by recursively cutting
// the device into regions that can be routed concurrently. The pkg directory
// is organized into:
//
//  1. [geom] - Grid geometry primitives (rectangles, cutline axes and sides)
//  2. [fabric] - Contracts with the surrounding tool (netlist, RR graph,
//     connection router, timing, budgets) and the shared routing state
//  3. [partition] - The spatial partition tree builder and its debug tooling
//  4. [route] - The parallel routing core: decomposition, scheduling and the
//     congestion-negotiation loop
//  5. [snapshot] - Per-iteration routing persistence (file, redis, mongo)
//
// # Architecture
//
// The typical data flow through one routing iteration:
//
//	Netlist + bounding boxes
//	         ↓
//	partition.Build        (choose cutlines, assign nets to regions)
//	         ↓
//	route.Runner           (walk the tree, route/decompose nets in parallel)
//	         ↓
//	RR graph cost update   (inflate congestion penalties)
//	         ↓
//	converged? snapshot : grow boxes and iterate
package pkg
