//go:build release

package gfx

const ResidentDescriptorCount = 65536
