// Package ir holds the foundational types shared by every lattice package.
//
// It contains:
//   - the closed set of machine-readable error codes (Error, Code)
//   - id generators (UUIDv7Generator for production, SequenceGenerator for tests)
//   - RFC 8785 canonical JSON and domain-separated hashing used for
//     content-addressed edge ids and golden journal traces
//
// All other internal packages import ir; ir imports nothing internal.
package ir
