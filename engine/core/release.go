//go:build release

package core

const DebugChecks = false
