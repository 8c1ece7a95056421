// Copyright (c) 2025 Auricle Labs
//
// Licensed under GPL-2.0 with Auricle Additional Terms.
// See LICENSE.md for commercial usage.
package internal_audio

import "time"

// Capture format of the system-audio helper: 24 kHz stereo LINEAR16 framed
// into 100 ms chunks before downmix.
const (
	SampleRate     = 24000
	Channels       = 2
	BytesPerSample = 2
	ChunkDuration  = 100 * time.Millisecond
)

// ChunkSize is the byte length of one full stereo chunk.
const ChunkSize = SampleRate * Channels * BytesPerSample / 10

// Framer accumulates an arbitrary byte stream into fixed-size chunks.
// Leftover bytes are carried until the next push; partial reads never drop
// audio.
type Framer struct {
	size int
	buf  []byte
}

// NewFramer creates a framer producing chunks of size bytes.
func NewFramer(size int) *Framer {
	return &Framer{size: size}
}

// Push appends data and returns every complete chunk now available.
// Returns nil when no full chunk has accumulated yet.
func (f *Framer) Push(data []byte) [][]byte {
	f.buf = append(f.buf, data...)

	var chunks [][]byte
	for len(f.buf) >= f.size {
		chunk := make([]byte, f.size)
		copy(chunk, f.buf[:f.size])
		chunks = append(chunks, chunk)
		f.buf = f.buf[f.size:]
	}
	return chunks
}

// Pending returns the number of buffered leftover bytes.
func (f *Framer) Pending() int { return len(f.buf) }

// Reset discards any buffered leftover.
func (f *Framer) Reset() { f.buf = nil }

// DownmixStereo reduces interleaved 16-bit stereo PCM to mono by taking the
// left channel of each frame. A trailing odd frame is ignored.
func DownmixStereo(stereo []byte) []byte {
	frames := len(stereo) / 4
	mono := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		mono[i*2] = stereo[i*4]
		mono[i*2+1] = stereo[i*4+1]
	}
	return mono
}
