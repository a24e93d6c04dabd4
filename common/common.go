// Package common holds identifiers shared across the ranknet packages.
package common

// PackageName is the canonical short name used as the metrics namespace and
// in log attributes.
const PackageName = "ranknet"
