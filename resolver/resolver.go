// Package resolver turns a classified payload into a playable resource and
// owns the single live resource of a player instance.
package resolver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/bosley/callplay/audio"
	"github.com/bosley/callplay/payload"
)

const DefaultMIME = audio.MIMEMpeg

var (
	ErrSourceInvalid = errors.New("audio source invalid")
	ErrDecode        = errors.New("audio decode error")
	ErrNetworkFetch  = errors.New("network fetch error")

	// ErrSuperseded marks a resolution that finished after a newer one was
	// requested.
	ErrSuperseded = errors.New("resolution superseded")
)

// Resource is a playable URI. Owned resources are released exactly once;
// later calls to Release do nothing.
type Resource struct {
	PlayableURI  string
	OwnsResource bool
	MIME         string

	once    sync.Once
	release func()
}

// Release frees the resource. It is safe to call on a nil resource and more
// than once.
func (r *Resource) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		if r.release != nil {
			r.release()
		}
	})
}

// Resolution is the stamped outcome of one Resolve call.
type Resolution struct {
	Generation uint64
	Resource   *Resource
}

// Prober checks that a URL source is reachable.
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// HTTPProber issues a HEAD request and treats any non-2xx/3xx status as
// unreachable.
type HTTPProber struct {
	Client *http.Client
}

func (p HTTPProber) Probe(ctx context.Context, url string) error {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

// Resolver resolves sources for one player instance.
type Resolver struct {
	blobs  *Blobs
	prober Prober

	gen atomic.Uint64

	mu   sync.Mutex
	live *Resource
}

// New creates a Resolver minting owned URLs in blobs. prober may be nil, in
// which case URL sources are passed through unchecked.
func New(blobs *Blobs, prober Prober) *Resolver {
	if blobs == nil {
		blobs = NewBlobs("")
	}
	return &Resolver{
		blobs:  blobs,
		prober: prober,
	}
}

// Blobs returns the registry backing owned resources.
func (r *Resolver) Blobs() *Blobs {
	return r.blobs
}

// Current returns the most recently issued generation.
func (r *Resolver) Current() uint64 {
	return r.gen.Load()
}

// IsCurrent reports whether gen is still the latest request.
func (r *Resolver) IsCurrent(gen uint64) bool {
	return r.gen.Load() == gen
}

// Resolve produces a resource for src. Every call takes a new generation;
// the returned Resolution carries it even on failure. If a newer call was
// made while this one was in flight, any owned resource is released and
// ErrSuperseded is returned.
func (r *Resolver) Resolve(ctx context.Context, src payload.Source, mimeHint string) (Resolution, error) {
	gen := r.gen.Add(1)
	res, err := r.resolve(ctx, src, mimeHint)

	if !r.IsCurrent(gen) {
		res.Release()
		slog.Debug("Discarding stale resolution",
			"generation", gen,
			"current", r.Current(),
			"kind", src.Kind)
		return Resolution{Generation: gen}, ErrSuperseded
	}
	if err != nil {
		return Resolution{Generation: gen}, err
	}
	return Resolution{Generation: gen, Resource: res}, nil
}

func (r *Resolver) resolve(ctx context.Context, src payload.Source, mimeHint string) (*Resource, error) {
	switch src.Kind {
	case payload.URL:
		if r.prober != nil {
			if err := r.prober.Probe(ctx, src.Text); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrNetworkFetch, src.Text, err)
			}
		}
		return &Resource{PlayableURI: src.Text}, nil

	case payload.DataURL, payload.ObjectURL:
		return &Resource{PlayableURI: src.Text}, nil

	case payload.Base64:
		data, err := base64.StdEncoding.Strict().DecodeString(src.Text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return r.own(data, mimeHint), nil

	case payload.RawBytes:
		data := src.Bytes
		if src.Reader != nil {
			var err error
			data, err = io.ReadAll(src.Reader)
			if err != nil {
				return nil, fmt.Errorf("%w: failed to read binary payload: %v", ErrDecode, err)
			}
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("%w: empty binary payload", ErrDecode)
		}
		return r.own(data, mimeHint), nil
	}

	reason := src.Reason
	if reason == "" {
		reason = payload.ReasonUnrecognized
	}
	return nil, fmt.Errorf("%w: %s", ErrSourceInvalid, reason)
}

func (r *Resolver) own(data []byte, mimeHint string) *Resource {
	mime := mimeHint
	if mime == "" {
		mime = DefaultMIME
	}
	uri := r.blobs.Create(data, mime)
	return &Resource{
		PlayableURI:  uri,
		OwnsResource: true,
		MIME:         mime,
		release: func() {
			r.blobs.Revoke(uri)
			slog.Debug("Released owned audio resource", "uri", uri)
		},
	}
}

// Apply makes res the live resource if its generation is still current.
// confirm, when non-nil, runs before the swap; it is where the caller hands
// the new URI to its media element. The previously live resource is
// released only after confirm succeeded and the swap happened. A stale or
// unconfirmed resolution is released and Apply returns false.
func (r *Resolver) Apply(res Resolution, confirm func(*Resource) error) (bool, error) {
	r.mu.Lock()
	if !r.IsCurrent(res.Generation) || res.Resource == nil {
		live := r.live
		r.mu.Unlock()
		if res.Resource != live {
			res.Resource.Release()
		}
		return false, nil
	}
	if confirm != nil {
		if err := confirm(res.Resource); err != nil {
			r.mu.Unlock()
			res.Resource.Release()
			return false, err
		}
	}
	prev := r.live
	r.live = res.Resource
	r.mu.Unlock()

	if prev != res.Resource {
		prev.Release()
	}
	return true, nil
}

// Live returns the live resource, if any.
func (r *Resolver) Live() *Resource {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

// ReleaseLive drops and releases the live resource. Resolutions in flight
// are unaffected.
func (r *Resolver) ReleaseLive() {
	r.mu.Lock()
	prev := r.live
	r.live = nil
	r.mu.Unlock()
	prev.Release()
}

// Invalidate bumps the generation so that in-flight resolutions are
// discarded, and releases the live resource.
func (r *Resolver) Invalidate() {
	r.gen.Add(1)
	r.ReleaseLive()
}

// Close releases the live resource and discards anything still in flight.
func (r *Resolver) Close() {
	r.Invalidate()
}
