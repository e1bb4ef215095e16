// Package serializer converts common.Message values to bytes and back.
//
// Three formats are available through New: "binary" (default for the
// socket transports), "json" and "gob". The binary format writes a flag byte
// telling which fields are present, followed by the length prefixed fields,
// so store commands and read results travel without a second encoding step.
// JSON is the readable choice for debugging with curl; gob exists for
// completeness and is the slowest of the three (see benchmark_test.go).
//
// All serializers are stateless and safe for concurrent use.
package serializer
