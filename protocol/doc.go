// Package protocol implements a coordinator/worker exchange over a fixed
// group of cooperating processes ("ranks") that share one execution group
// ("world"). It demonstrates the four classic group-communication primitives
// (broadcast, gather, directed send/receive, and barrier) by running a small
// lockstep protocol across them.
//
// # Roles and Workflow
//
// Rank 0 is the coordinator; every other rank is a worker. Both roles run
// the same phase sequence, and every phase boundary is a blocking transport
// call:
//
//  1. Seed: the coordinator draws a random seed in [0, 2^32) and broadcasts
//     it to the world.
//
//  2. Report: each worker computes seed + rank, attaches its local identity,
//     and contributes the pair via gather. The coordinator validates every
//     entry against the expected value and prints a PASS/FAIL verdict line
//     per rank.
//
//  3. Halving: the coordinator exchanges control values with each
//     structurally valid worker over a directed channel. A worker replies to
//     a value v with floor(v/2) and keeps listening; the control value 0
//     halts its loop. Ranks whose gather entry was malformed are skipped
//     entirely and never receive a halt signal.
//
//  4. Barrier: every rank joins a final barrier before finishing. The
//     protocol does not need the barrier for correctness; it completes the
//     demonstration of the primitive set.
//
// # Messages
//
// All inter-rank payloads are Envelope values carrying an explicit Kind
// discriminant (seed, report, or control). A payload of the wrong kind for
// the phase it arrives in is malformed: malformed gather entries are
// reported and skipped, while a malformed broadcast or control payload is
// fatal for the rank that receives it.
//
// # Transports
//
// The package only consumes the GroupTransport contract. Implementations
// live elsewhere: an in-process channel-backed world (package transport) and
// an HTTP-backed world (package services). MockTransport in this package
// scripts transport behavior for unit tests.
//
// # Failure Semantics
//
// Failures stay local to the rank that encounters them; there is no
// cross-rank failure propagation. A rank that hits a fatal error after the
// report phase still attempts the barrier so surviving ranks are not
// stranded, then returns the error. Blocking calls wait forever by default;
// Config.PhaseDeadline optionally bounds each call and surfaces
// ErrPeerUnresponsive on expiry.
package protocol
