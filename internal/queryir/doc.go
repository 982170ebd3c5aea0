// Package queryir defines the abstract filter the storage engine accepts.
//
// A Filter is a conjunction of typed predicates plus read options. It is
// produced upstream (request parsing, access control) and lowered to SQL by
// package querysql:
//
//	[API params] → [access control expands streams] → [queryir.Filter] → [querysql] → SQLite
//
// SEALED INTERFACES:
//
// Predicate is sealed with the marker method pattern. Only types in this
// package implement it, so compilers can switch exhaustively and treat
// anything else as an unsupported shape.
//
// STREAM SELECTORS:
//
// StreamsQuery carries stream ids that are already authorised and expanded.
// The engine never resolves the stream hierarchy itself; "in diary or any
// of its children" arrives as the explicit list of ids.
//
// FAIL FAST:
//
// Validate rejects shapes the backend cannot lower safely. Every rejection
// wraps ErrUnsupportedQuery.
package queryir
