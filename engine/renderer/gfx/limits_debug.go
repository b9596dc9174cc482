//go:build !release

package gfx

// ResidentDescriptorCount is kept small in debug builds so leaks surface early.
const ResidentDescriptorCount = 4096
