package internal_audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramerCarriesLeftoverAcrossPushes(t *testing.T) {
	f := NewFramer(10)

	chunks := f.Push(make([]byte, 7))
	assert.Nil(t, chunks)
	assert.Equal(t, 7, f.Pending())

	chunks = f.Push(make([]byte, 7))
	require.Len(t, chunks, 1)
	assert.Len(t, chunks[0], 10)
	assert.Equal(t, 4, f.Pending())
}

func TestFramerEmitsMultipleChunks(t *testing.T) {
	f := NewFramer(4)

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	chunks := f.Push(data)
	require.Len(t, chunks, 2)
	assert.Equal(t, []byte{1, 2, 3, 4}, chunks[0])
	assert.Equal(t, []byte{5, 6, 7, 8}, chunks[1])
	assert.Equal(t, 1, f.Pending())
}

func TestFramerZeroLengthPush(t *testing.T) {
	f := NewFramer(4)
	assert.Nil(t, f.Push(nil))
	assert.Zero(t, f.Pending())
}

func TestFramerReset(t *testing.T) {
	f := NewFramer(8)
	f.Push([]byte{1, 2, 3})
	f.Reset()
	assert.Zero(t, f.Pending())
}

func TestDownmixStereoTakesLeftChannel(t *testing.T) {
	// Two stereo frames: left samples 100 and -5, right samples 7 and 9.
	samples := []int16{100, 7, -5, 9}
	stereo := make([]byte, 8)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(stereo[2*i:], uint16(sample))
	}

	mono := DownmixStereo(stereo)
	require.Len(t, mono, 4)
	assert.Equal(t, int16(100), int16(binary.LittleEndian.Uint16(mono[0:])))
	assert.Equal(t, int16(-5), int16(binary.LittleEndian.Uint16(mono[2:])))
}

func TestDownmixStereoIgnoresTrailingPartialFrame(t *testing.T) {
	mono := DownmixStereo(make([]byte, 6))
	assert.Len(t, mono, 2)
}

func TestChunkSizeMatchesFormat(t *testing.T) {
	// 100ms at 24kHz, 16-bit stereo.
	assert.Equal(t, 9600, ChunkSize)
}
