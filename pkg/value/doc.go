// Package value provides the dynamically-typed payload tree used for captured data.
//
// This package includes:
//   - Value: a tagged union over absent, null, bool, number, string, array and object
//   - Parse/FromAny for building values from JSON or decoded Go data
//   - Canonicalize for a key-order independent serialization
//   - Hash/HashBytes for fixed-length SHA-256 fingerprints
//
// Captured payloads are tree-shaped; cyclic data cannot be represented.
package value
