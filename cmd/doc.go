// Package cmd contains the ranknet command-line binaries.
//
// Four binaries are provided:
//
//   - registry: the rank-assignment and membership service
//   - coordinator: the rank-0 protocol service
//   - worker: a non-zero-rank protocol service
//   - world: a single-process world over the in-process transport, for
//     demos and local verification
//
// Each binary reads an optional YAML configuration file and accepts flags
// that override it; see cmd/common for the shared configuration schema.
package cmd
