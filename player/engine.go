// Package player keeps playback state, the active transcript segment and the
// live audio resource of one player instance in sync, and emits the host
// events for every transition.
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/bosley/callplay/audio"
	"github.com/bosley/callplay/config"
	"github.com/bosley/callplay/fieldmap"
	"github.com/bosley/callplay/payload"
	"github.com/bosley/callplay/resolver"
	"github.com/bosley/callplay/transcript"
)

var (
	ErrControlsDisabled = errors.New("playback controls disabled")
	ErrNoSource         = errors.New("no audio source loaded")
	ErrEnded            = errors.New("playback ended")
	ErrNoSegment        = errors.New("no such transcript segment")
	ErrClosed           = errors.New("player closed")
)

// Options configures a new Engine.
type Options struct {
	InitialSpeed   float64
	AutoPlay       bool
	ShowTranscript bool

	Media   Media
	Emitter Emitter

	// Blobs backs owned resources; a private registry is used when nil.
	Blobs *resolver.Blobs

	// Prober checks URL sources before they are handed to Media.
	Prober resolver.Prober
}

// Snapshot is a point-in-time copy of the engine state.
type Snapshot struct {
	State             State   `json:"state"`
	CurrentTime       float64 `json:"currentTime"`
	Duration          float64 `json:"duration"`
	Progress          float64 `json:"progress"`
	Speed             float64 `json:"speed"`
	ActiveSegment     *int    `json:"activeSegmentIndex"`
	TranscriptVisible bool    `json:"transcriptVisible"`
	Source            string  `json:"source,omitempty"`
	FetchURL          string  `json:"fetchUrl,omitempty"`
	Generation        uint64  `json:"generation"`
	Error             string  `json:"error,omitempty"`
	Segments          int     `json:"segments"`
}

// Engine is the playback state machine. All methods are safe for concurrent
// use; they run one at a time.
type Engine struct {
	mu sync.Mutex

	resolver *resolver.Resolver
	media    Media
	emitter  Emitter

	mapping *fieldmap.Mapping
	items   []fieldmap.Item
	index   *transcript.Index

	state       State
	currentTime float64
	duration    float64
	progress    float64
	speed       float64
	active      int
	visible     bool
	autoPlay    bool
	source      string
	generation  uint64
	err         error

	// last applied tick for the current generation
	ticked   bool
	lastTick float64

	cfg        config.Component
	configured bool
	closed     bool
}

// New creates an idle engine.
func New(opts Options) *Engine {
	media := opts.Media
	if media == nil {
		media = NopMedia{}
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = nopEmitter{}
	}
	speed := DefaultSpeed
	if opts.InitialSpeed != 0 {
		speed = ClampSpeed(opts.InitialSpeed)
	}

	mapping := fieldmap.New()
	return &Engine{
		resolver: resolver.New(opts.Blobs, opts.Prober),
		media:    media,
		emitter:  emitter,
		mapping:  mapping,
		index:    transcript.Build(nil, mapping),
		state:    Idle,
		speed:    speed,
		active:   -1,
		visible:  opts.ShowTranscript,
		autoPlay: opts.AutoPlay,
	}
}

// Resolver exposes the engine's resolver, mainly for serving owned blobs.
func (e *Engine) Resolver() *resolver.Resolver {
	return e.resolver
}

// SetSource classifies and resolves a new audio payload and makes it the live
// source. A resolution overtaken by a newer SetSource returns
// resolver.ErrSuperseded and changes nothing. Any other failure moves the
// engine to Error.
func (e *Engine) SetSource(ctx context.Context, url string, binary any, mimeHint string) error {
	src := payload.Classify(url, binary)
	slog.Debug("Classified audio source", "kind", src.Kind, "reason", src.Reason)

	res, err := e.resolver.Resolve(ctx, src, mimeHint)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		res.Resource.Release()
		return ErrClosed
	}
	if errors.Is(err, resolver.ErrSuperseded) || !e.resolver.IsCurrent(res.Generation) {
		res.Resource.Release()
		return resolver.ErrSuperseded
	}
	if err != nil {
		e.fail(err)
		return err
	}

	applied, err := e.resolver.Apply(res, func(r *resolver.Resource) error {
		return e.media.Load(r.PlayableURI)
	})
	if err != nil {
		err = fmt.Errorf("%w: media rejected source: %v", resolver.ErrSourceInvalid, err)
		e.fail(err)
		return err
	}
	if !applied {
		return resolver.ErrSuperseded
	}

	e.generation = res.Generation
	e.source = res.Resource.PlayableURI
	e.err = nil
	e.state = Ready
	e.currentTime = 0
	e.duration = e.probeDuration(res.Resource)
	e.progress = 0
	e.ticked = false
	e.active, _ = e.lookup(0)

	if err := e.media.SetRate(e.speed); err != nil {
		slog.Warn("Failed to apply playback rate", "error", err, "speed", e.speed)
	}

	slog.Info("Audio source ready",
		"kind", src.Kind,
		"generation", res.Generation,
		"owned", res.Resource.OwnsResource)

	if e.autoPlay {
		if err := e.play(); err != nil {
			slog.Warn("Autoplay failed", "error", err)
		}
	}
	return nil
}

func (e *Engine) probeDuration(r *resolver.Resource) float64 {
	if !r.OwnsResource {
		return 0
	}
	blob, ok := e.resolver.Blobs().Lookup(r.PlayableURI)
	if !ok {
		return 0
	}
	info, err := audio.Probe(blob.Data)
	if err != nil {
		slog.Debug("Failed to probe owned audio", "error", err)
		return 0
	}
	return info.Duration.Seconds()
}

// fail enters Error. The live resource is released since nothing can play
// it until a new source arrives.
func (e *Engine) fail(err error) {
	slog.Error("Audio source failed", "error", err)
	e.resolver.ReleaseLive()
	e.source = ""
	e.state = Error
	e.err = err
	e.ticked = false
	e.emitter.Emit(Event{Type: EventError, Payload: ErrorPayload{Message: err.Error()}})
}

// MediaError reports a failure of the media element itself, such as a URL
// that stopped loading. It moves the engine to Error.
func (e *Engine) MediaError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.state == Idle {
		return
	}
	e.fail(fmt.Errorf("%w: %v", resolver.ErrNetworkFetch, err))
}

// SetTranscript replaces the transcript and rebuilds the index.
func (e *Engine) SetTranscript(items []fieldmap.Item) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.items = items
	e.rebuild()
}

// SetMapping replaces the field mapping and rebuilds the index.
func (e *Engine) SetMapping(m *fieldmap.Mapping) {
	if m == nil {
		m = fieldmap.New()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mapping = m
	e.rebuild()
}

func (e *Engine) rebuild() {
	e.index = transcript.Build(e.items, e.mapping)
	e.active, _ = e.lookup(e.currentTime)
	slog.Debug("Transcript index rebuilt", "segments", e.index.Len())
}

func (e *Engine) lookup(t float64) (int, bool) {
	i, ok := e.index.Lookup(t)
	if !ok {
		return -1, false
	}
	return i, true
}

// Segments returns the ordered transcript segments.
func (e *Engine) Segments() []transcript.Segment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index.Segments()
}

// Play starts playback from Ready or Paused.
func (e *Engine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.play()
}

func (e *Engine) play() error {
	if err := e.controllable(); err != nil {
		return err
	}
	switch e.state {
	case Playing:
		return nil
	case Ended:
		return ErrEnded
	}
	if err := e.media.Play(); err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}
	e.state = Playing
	e.emitter.Emit(Event{Type: EventPlay, Payload: PlaybackPayload{CurrentTime: e.currentTime}})
	return nil
}

// Pause pauses playback. Pausing when not playing does nothing.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.controllable(); err != nil {
		return err
	}
	if e.state != Playing {
		return nil
	}
	if err := e.media.Pause(); err != nil {
		return fmt.Errorf("failed to pause playback: %w", err)
	}
	e.state = Paused
	e.emitter.Emit(Event{Type: EventPause, Payload: PlaybackPayload{CurrentTime: e.currentTime}})
	return nil
}

func (e *Engine) controllable() error {
	switch {
	case e.closed:
		return ErrClosed
	case e.state == Error:
		return ErrControlsDisabled
	case e.state == Idle:
		return ErrNoSource
	}
	return nil
}

// Tick applies a time update from the media element. Ticks older than the
// last applied one, or repeating it, are ignored until the next seek or
// source change. Ticks outside Ready, Playing and Paused are ignored.
func (e *Engine) Tick(currentTime, duration float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	switch e.state {
	case Ready, Playing, Paused:
	default:
		return
	}
	if math.IsNaN(currentTime) || math.IsNaN(duration) {
		return
	}
	d := e.duration
	if duration > 0 && !math.IsInf(duration, 0) {
		d = duration
	}
	if e.ticked && (currentTime < e.lastTick || (currentTime == e.lastTick && d == e.duration)) {
		return
	}

	e.ticked = true
	e.lastTick = currentTime
	e.currentTime = currentTime
	e.duration = d
	e.progress = 0
	if e.duration > 0 {
		e.progress = e.currentTime / e.duration
	}

	if i, _ := e.lookup(currentTime); i != e.active {
		e.active = i
	}

	e.emitter.Emit(Event{Type: EventTimeUpdate, Payload: TimeUpdatePayload{
		CurrentTime: e.currentTime,
		Duration:    e.duration,
		Progress:    e.progress,
	}})

	if e.state == Playing && e.duration > 0 && e.currentTime >= e.duration {
		e.end()
	}
}

// MediaEnded reports that the media element reached the end.
func (e *Engine) MediaEnded() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.state != Playing {
		return
	}
	e.end()
}

func (e *Engine) end() {
	e.state = Ended
	e.emitter.Emit(Event{Type: EventEnded, Payload: EndedPayload{}})
}

// SeekTo jumps to the start of the segment at position index, keeping the
// Playing or Paused state. From Ended it re-enters Ready.
func (e *Engine) SeekTo(index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.controllable(); err != nil {
		return err
	}
	seg, ok := e.index.Segment(index)
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoSegment, index)
	}
	if err := e.media.Seek(seg.StartTime); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}

	e.currentTime = seg.StartTime
	if e.duration > 0 {
		e.progress = e.currentTime / e.duration
	}
	e.ticked = false
	e.active, _ = e.lookup(seg.StartTime)
	if e.state == Ended {
		e.state = Ready
	}

	e.emitter.Emit(Event{Type: EventTranscriptClick, Payload: TranscriptClickPayload{
		Time:    seg.StartTime,
		Speaker: seg.Speaker,
		Text:    seg.Text,
	}})
	return nil
}

// SetSpeed clamps v to a supported rate and applies it.
func (e *Engine) SetSpeed(v float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	speed := ClampSpeed(v)
	e.speed = speed
	if e.state != Idle && e.state != Error {
		if err := e.media.SetRate(speed); err != nil {
			slog.Warn("Failed to apply playback rate", "error", err, "speed", speed)
		}
	}
	e.emitter.Emit(Event{Type: EventSpeedChange, Payload: SpeedChangePayload{Speed: speed}})
	return speed
}

// SetTranscriptVisible toggles transcript visibility.
func (e *Engine) SetTranscriptVisible(visible bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.visible = visible
	e.emitter.Emit(Event{Type: EventTranscriptToggle, Payload: TranscriptTogglePayload{IsVisible: visible}})
}

// Snapshot returns the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		State:             e.state,
		CurrentTime:       e.currentTime,
		Duration:          e.duration,
		Progress:          e.progress,
		Speed:             e.speed,
		TranscriptVisible: e.visible,
		Source:            e.source,
		Generation:        e.generation,
		Segments:          e.index.Len(),
	}
	if url, ok := e.resolver.Blobs().FetchURL(e.source); ok {
		s.FetchURL = url
	}
	if e.active >= 0 {
		active := e.active
		s.ActiveSegment = &active
	}
	if e.err != nil {
		s.Error = e.err.Error()
	}
	return s
}

// ActiveSegment returns the segment containing the current time, if any.
func (e *Engine) ActiveSegment() (transcript.Segment, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index.Segment(e.active)
}

// Configure applies a component configuration, re-applying only what changed
// since the previous call. The first call also applies the initial speed
// and transcript visibility without emitting events.
func (e *Engine) Configure(ctx context.Context, c config.Component) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	prev, first := e.cfg, !e.configured
	e.cfg = c
	e.configured = true
	e.autoPlay = c.AutoPlay
	if first {
		e.speed = ParseSpeed(c.InitialSpeed)
		e.visible = c.ShowTranscriptByDefault
	}
	e.mu.Unlock()

	if first || !c.SameMapping(prev) {
		m, err := c.Mapping()
		if err != nil {
			return err
		}
		e.SetMapping(m)
	}
	if first || !c.SameTranscript(prev) {
		e.SetTranscript(c.Items())
	}
	if !first && c.InitialSpeed != prev.InitialSpeed {
		e.SetSpeed(ParseSpeed(c.InitialSpeed))
	}

	if (first && !c.HasAudio()) || (!first && c.SameAudio(prev)) {
		return nil
	}
	url, binary, err := c.Payload()
	if err != nil {
		e.mu.Lock()
		e.resolver.Invalidate()
		e.fail(fmt.Errorf("%w: %v", resolver.ErrSourceInvalid, err))
		e.mu.Unlock()
		return err
	}
	err = e.SetSource(ctx, url, binary, c.MIMEType)
	if errors.Is(err, resolver.ErrSuperseded) {
		return nil
	}
	return err
}

// Close releases the live resource and stops the engine. Calling Close more
// than once is harmless.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.resolver.Close()
	if e.state == Playing {
		if err := e.media.Pause(); err != nil {
			slog.Debug("Failed to pause media on close", "error", err)
		}
	}
	e.state = Idle
	e.source = ""
	slog.Debug("Player closed")
}
