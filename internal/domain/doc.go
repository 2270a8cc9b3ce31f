// Package domain defines the core domain types and interfaces.
//
// This package contains concept-oriented files (feed.go, generator.go, snapshot.go, errors.go)
// with shared types and cross-cutting interfaces. No implementation code beyond small helpers.
// Prevents circular imports by keeping interfaces on the consumer side.
package domain
