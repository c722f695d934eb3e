// Package domain defines the core domain types of the reaction service.
//
// This package contains concept-oriented files (reaction.go, palette.go,
// errors.go) with shared types and pure logic. No I/O lives here; the
// selection state machine in reaction.go is the single place the three
// transitions (first-select, switch, toggle-off) are enumerated.
package domain
