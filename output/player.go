// Package output plays the engine's live source on the local sound card.
// Only WAV sources can be decoded locally; other formats are rejected at
// Load, which the engine reports as a source error.
package output

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/bosley/callplay/audio"
	"github.com/bosley/callplay/resolver"
)

const (
	framesPerBuffer = 1024
	tickInterval    = 250 * time.Millisecond
	maxFetchBytes   = 256 << 20
)

var ErrUnsupportedURI = errors.New("unsupported media URI")

// Player implements player.Media on top of a PortAudio output stream.
type Player struct {
	blobs  *resolver.Blobs
	client *http.Client

	mu      sync.Mutex
	cursor  *audio.Cursor
	stream  *portaudio.Stream
	pcm     *audio.PCM
	playing bool
	rate    float64
	ended   bool

	// Called from Run's goroutine, never while the player's lock is held.
	OnTick  func(currentTime, duration float64)
	OnEnded func()
}

// New initializes PortAudio. Close must be called to release it.
func New(blobs *resolver.Blobs) (*Player, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &Player{
		blobs:  blobs,
		client: &http.Client{Timeout: 30 * time.Second},
		rate:   1,
	}, nil
}

// Load decodes the audio behind uri and opens a stream for it. The stream
// starts paused.
func (p *Player) Load(uri string) error {
	data, err := p.fetch(uri)
	if err != nil {
		return err
	}
	pcm, err := audio.DecodeWav(data)
	if err != nil {
		return err
	}

	cursor := audio.NewCursor(pcm)
	stream, err := portaudio.OpenDefaultStream(
		0,
		int(pcm.Format.Channels),
		float64(pcm.Format.SampleRate),
		framesPerBuffer,
		func(out []int16) {
			p.mu.Lock()
			playing := p.playing && p.cursor == cursor
			p.mu.Unlock()
			if !playing {
				clear(out)
				return
			}
			cursor.Fill(out)
		},
	)
	if err != nil {
		return fmt.Errorf("failed to open audio stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start audio stream: %w", err)
	}

	p.mu.Lock()
	prev := p.stream
	cursor.SetRate(p.rate)
	p.cursor = cursor
	p.stream = stream
	p.pcm = pcm
	p.playing = false
	p.ended = false
	p.mu.Unlock()

	if prev != nil {
		closeStream(prev)
	}

	slog.Debug("Loaded audio for local playback",
		"sampleRate", pcm.Format.SampleRate,
		"channels", pcm.Format.Channels,
		"duration", pcm.Duration())
	return nil
}

func (p *Player) fetch(uri string) ([]byte, error) {
	switch {
	case strings.HasPrefix(uri, "blob:"):
		if p.blobs == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedURI, uri)
		}
		blob, ok := p.blobs.Lookup(uri)
		if !ok {
			return nil, fmt.Errorf("blob %s was revoked", uri)
		}
		return blob.Data, nil

	case strings.HasPrefix(uri, "data:"):
		meta, encoded, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
		if !ok {
			return nil, fmt.Errorf("%w: malformed data URL", ErrUnsupportedURI)
		}
		if strings.HasSuffix(meta, ";base64") {
			return base64.StdEncoding.DecodeString(encoded)
		}
		s, err := url.PathUnescape(encoded)
		if err != nil {
			return nil, err
		}
		return []byte(s), nil

	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		resp, err := p.client.Get(uri)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("unexpected status %s fetching %s", resp.Status, uri)
		}
		return io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedURI, uri)
}

func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cursor == nil {
		return errors.New("nothing loaded")
	}
	p.playing = true
	return nil
}

func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
	return nil
}

func (p *Player) Seek(seconds float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cursor == nil {
		return errors.New("nothing loaded")
	}
	p.cursor.Seek(seconds)
	p.ended = false
	return nil
}

func (p *Player) SetRate(rate float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rate = rate
	if p.cursor != nil {
		p.cursor.SetRate(rate)
	}
	return nil
}

// Run reports the playback position until ctx is done.
func (p *Player) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.report()
		}
	}
}

func (p *Player) report() {
	p.mu.Lock()
	if !p.playing || p.cursor == nil {
		p.mu.Unlock()
		return
	}
	cur := p.cursor.Position()
	dur := p.pcm.Duration().Seconds()
	justEnded := p.cursor.Ended() && !p.ended
	if justEnded {
		p.ended = true
		p.playing = false
	}
	p.mu.Unlock()

	if p.OnTick != nil {
		p.OnTick(cur, dur)
	}
	if justEnded && p.OnEnded != nil {
		p.OnEnded()
	}
}

// Close stops the stream and terminates PortAudio.
func (p *Player) Close() error {
	p.mu.Lock()
	stream := p.stream
	p.stream = nil
	p.cursor = nil
	p.playing = false
	p.mu.Unlock()

	if stream != nil {
		closeStream(stream)
	}
	return portaudio.Terminate()
}

func closeStream(s *portaudio.Stream) {
	if err := s.Stop(); err != nil {
		slog.Error("Failed to stop audio stream", "error", err)
	}
	if err := s.Close(); err != nil {
		slog.Error("Failed to close audio stream", "error", err)
	}
}

// ListDevices returns the output-capable audio devices.
func ListDevices() ([]portaudio.DeviceInfo, error) {
	err := portaudio.Initialize()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	outputDevices := make([]portaudio.DeviceInfo, 0)
	for _, device := range devices {
		if device.MaxOutputChannels > 0 {
			outputDevices = append(outputDevices, *device)
		}
	}
	return outputDevices, nil
}
