// Package codec describes binary structures declaratively and decodes/encodes
// them with the same description.
//
// # Overview
//
// A Codec is built from primitives and combinators:
//   - Uint8, Uint16, Uint32 (big-endian) and Uint16LE, Uint32LE
//   - Const for magic values, Bytes for fixed or computed-length blocks
//   - Struct for ordered named fields, List and Greedy for repetition
//   - Switch for tagged unions, Prefixed and Sized for bounded sub-structures
//
// Lengths and counts are Length functions evaluated against a Scope: an
// immutable chain of the values decoded so far (or, when encoding, of the
// values being written). A Struct field may therefore size itself from any
// earlier field, or from a field of an enclosing Struct.
//
// Struct values are *ordereddict.Dict keyed by field name, lists are []any,
// integers are uint32 and byte blocks are []byte.
//
// # Errors
//
// ErrInsufficientData is returned whenever a read would run past the end of
// the input. ErrConstantMismatch reports a magic value that did not match.
// ErrLengthMismatch is returned by Encode when a value disagrees with the
// length or count its description computes. Greedy never propagates the error
// of the item that ends it.
package codec
