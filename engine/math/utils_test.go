package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, 3, Clamp(5, 1, 3))
	assert.Equal(t, 1, Clamp(-2, 1, 3))
	assert.Equal(t, 2.5, Clamp(2.5, 1.0, 3.0))
}

func TestAlignUp(t *testing.T) {
	tests := []struct {
		v, align, want uint32
	}{
		{0, 256, 0},
		{1, 256, 256},
		{256, 256, 256},
		{257, 256, 512},
		{12, 4, 12},
		{13, 4, 16},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AlignUp(tt.v, tt.align), "AlignUp(%d, %d)", tt.v, tt.align)
	}
}

func TestIsPowerOfTwo(t *testing.T) {
	assert.True(t, IsPowerOfTwo(uint64(1)))
	assert.True(t, IsPowerOfTwo(uint64(256)))
	assert.False(t, IsPowerOfTwo(uint64(0)))
	assert.False(t, IsPowerOfTwo(uint64(96)))
}

func TestDivideRoundUp(t *testing.T) {
	assert.Equal(t, uint32(4), DivideRoundUp(uint32(200), uint32(64)))
	assert.Equal(t, uint32(1), DivideRoundUp(uint32(64), uint32(64)))
	assert.Equal(t, uint32(0), DivideRoundUp(uint32(0), uint32(64)))
}
