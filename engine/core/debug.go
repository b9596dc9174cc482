//go:build !release

package core

// DebugChecks enables contract assertions and resource ownership tracking.
// Build with -tags release to compile them out.
const DebugChecks = true
