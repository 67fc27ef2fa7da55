package audio

import (
	"math"
	"sync"
)

// Cursor walks a PCM buffer at a variable playback rate. Rates other than 1
// use nearest-frame stepping, which shifts pitch; good enough for reviewing
// call recordings.
type Cursor struct {
	mu    sync.Mutex
	pcm   *PCM
	pos   float64 // in frames
	rate  float64
	ended bool
}

func NewCursor(pcm *PCM) *Cursor {
	return &Cursor{pcm: pcm, rate: 1}
}

// SetRate changes the step per output frame. Non-positive rates are ignored.
func (c *Cursor) SetRate(rate float64) {
	if rate <= 0 || math.IsNaN(rate) {
		return
	}
	c.mu.Lock()
	c.rate = rate
	c.mu.Unlock()
}

// Seek moves to the given time in seconds, clamped to the buffer.
func (c *Cursor) Seek(seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	frames := float64(c.pcm.Frames())
	pos := seconds * float64(c.pcm.Format.SampleRate)
	if pos < 0 || math.IsNaN(pos) {
		pos = 0
	}
	if pos > frames {
		pos = frames
	}
	c.pos = pos
	c.ended = pos >= frames
}

// Position returns the current time in seconds.
func (c *Cursor) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pcm.Format.SampleRate == 0 {
		return 0
	}
	return c.pos / float64(c.pcm.Format.SampleRate)
}

// Ended reports whether the cursor ran past the last frame.
func (c *Cursor) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

// Fill writes interleaved frames into out, padding with silence past the end.
// It returns the number of frames taken from the buffer.
func (c *Cursor) Fill(out []int16) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	channels := int(c.pcm.Format.Channels)
	if channels == 0 {
		clear(out)
		return 0
	}
	frames := c.pcm.Frames()
	n := 0
	for i := 0; i+channels <= len(out); i += channels {
		frame := int(c.pos)
		if frame >= frames {
			c.ended = true
			clear(out[i:])
			break
		}
		copy(out[i:i+channels], c.pcm.Samples[frame*channels:(frame+1)*channels])
		c.pos += c.rate
		n++
	}
	return n
}
