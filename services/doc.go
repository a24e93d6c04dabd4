// Package services runs the protocol roles as networked HTTP services.
//
// A deployment has one registry plus one service per rank. Services register
// with the registry, which reserves rank 0 for the coordinator, hands workers
// the remaining ranks in arrival order, and publishes the world membership
// once every expected rank has arrived. Each service then
// builds an HTTP-backed group transport from the membership and runs its
// protocol role over it.
//
// The Orchestrator deploys a whole world in-process on ephemeral ports,
// which backs the end-to-end tests and the demo runner. Completed runs can
// be persisted through a RunStore; both a PostgreSQL and an in-memory
// implementation are provided.
package services
