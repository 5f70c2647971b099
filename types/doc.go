// Package types provides core type definitions and interfaces for the
// gradsync library.
//
// This package contains shared types that are used across multiple packages
// in the library. By keeping these types in a separate package, internal
// packages can depend on them without depending on the root gradsync
// package, which avoids import cycles. The root package re-exports the most
// commonly used definitions via type aliases for convenience.
package types
