// Package transport provides runnable implementations of the group
// primitives the protocol package consumes.
//
// The in-process World wires every rank through Go channels and is the
// reference implementation for the blocking semantics: broadcast delivers
// without synchronizing, gather blocks the root for the full world, directed
// sends rendezvous with their receiver, and the barrier releases all ranks
// together. It backs the unit and end-to-end tests and the single-binary
// world runner.
//
// The HTTP transport in the services package provides the same contract
// across processes.
package transport
