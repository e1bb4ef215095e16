// Package id provides the typed, immutable identifiers used by every backend.
//
// An Id has two byte forms:
//
//   - AsBytes: the canonical form that defines ordering. Backends use it as the
//     physical key, so unsigned lexicographic order of AsBytes is the order of
//     range scans, and byte prefixes of AsBytes are what prefix scans match.
//     Numbers are 8 bytes big-endian, text ids are their UTF-8 bytes.
//
//   - Encode/Decode: a self-describing form (leading kind tag) used wherever an
//     id has to be reconstructed from bytes, e.g. inside stored entries or on the wire.
//
// Variants: Number, Text, UUID, Edge (owner, direction, label, sort values, other vertex)
// and Binary (opaque bytes, used for key prefixes such as EdgePrefix).
package id
