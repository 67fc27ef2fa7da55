package resolver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bosley/callplay/payload"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

type gateProber struct {
	entered chan struct{}
	release chan struct{}
}

func (p *gateProber) Probe(ctx context.Context, url string) error {
	close(p.entered)
	select {
	case <-p.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestResolveDataURLVerbatim(t *testing.T) {
	r := New(nil, nil)
	in := "data:audio/mp3;base64,SGVsbG8="

	res, err := r.Resolve(context.Background(), payload.Classify("", in), "")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if res.Resource.PlayableURI != in {
		t.Errorf("PlayableURI = %q; want %q", res.Resource.PlayableURI, in)
	}
	if res.Resource.OwnsResource {
		t.Error("data URL must not be owned")
	}
	res.Resource.Release()
	res.Resource.Release()
}

func TestResolveBase64(t *testing.T) {
	blobs := NewBlobs("")
	r := New(blobs, nil)

	res, err := r.Resolve(context.Background(), payload.Classify("", "SGVsbG8gd29ybGQ="), "")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	rsc := res.Resource
	if !rsc.OwnsResource {
		t.Fatal("base64 resource must be owned")
	}
	if !strings.HasPrefix(rsc.PlayableURI, "blob:") {
		t.Errorf("PlayableURI = %q; want blob: prefix", rsc.PlayableURI)
	}
	if rsc.MIME != DefaultMIME {
		t.Errorf("MIME = %q; want %q", rsc.MIME, DefaultMIME)
	}

	blob, ok := blobs.Lookup(rsc.PlayableURI)
	if !ok {
		t.Fatal("blob not registered")
	}
	if string(blob.Data) != "Hello world" {
		t.Errorf("blob data = %q", blob.Data)
	}

	rsc.Release()
	rsc.Release()
	if blobs.Len() != 0 {
		t.Errorf("blobs after release = %d; want 0", blobs.Len())
	}
}

func TestResolveRawBytes(t *testing.T) {
	blobs := NewBlobs("http://localhost/")
	r := New(blobs, nil)

	res, err := r.Resolve(context.Background(), payload.Classify("", strings.NewReader("RIFF....WAVE")), "audio/wav")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	blob, ok := blobs.Lookup(res.Resource.PlayableURI)
	if !ok || blob.MIME != "audio/wav" || string(blob.Data) != "RIFF....WAVE" {
		t.Errorf("blob = %+v, ok = %v", blob, ok)
	}
	if !strings.HasPrefix(res.Resource.PlayableURI, "blob:http://localhost/") {
		t.Errorf("PlayableURI = %q", res.Resource.PlayableURI)
	}
}

func TestResolveErrors(t *testing.T) {
	notFound := httptest.NewServer(http.NotFoundHandler())
	defer notFound.Close()

	tests := []struct {
		name   string
		src    payload.Source
		prober Prober
		want   error
	}{
		{name: "nothing", src: payload.Classify("", ""), want: ErrSourceInvalid},
		{name: "unrecognized", src: payload.Classify("", "not audio!"), want: ErrSourceInvalid},
		{name: "bad padding bits", src: payload.Source{Kind: payload.Base64, Text: "AB=="}, want: ErrDecode},
		{name: "bad alphabet", src: payload.Source{Kind: payload.Base64, Text: "A*B="}, want: ErrDecode},
		{name: "reader fails", src: payload.Classify("", failingReader{}), want: ErrDecode},
		{name: "unreachable url", src: payload.Classify(notFound.URL+"/a.mp3", nil), prober: HTTPProber{}, want: ErrNetworkFetch},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := New(nil, tc.prober)
			res, err := r.Resolve(context.Background(), tc.src, "")
			if !errors.Is(err, tc.want) {
				t.Fatalf("Resolve error = %v; want %v", err, tc.want)
			}
			if res.Resource != nil {
				t.Error("failed resolution must not produce a resource")
			}
			if res.Generation != r.Current() {
				t.Errorf("Generation = %d; want %d", res.Generation, r.Current())
			}
		})
	}
}

func TestResolveReachableURL(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()

	r := New(nil, HTTPProber{Client: ok.Client()})
	res, err := r.Resolve(context.Background(), payload.Classify(ok.URL+"/call.mp3", nil), "")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if res.Resource.PlayableURI != ok.URL+"/call.mp3" || res.Resource.OwnsResource {
		t.Errorf("Resource = %+v", res.Resource)
	}
}

func TestStaleResolutionDiscarded(t *testing.T) {
	prober := &gateProber{entered: make(chan struct{}), release: make(chan struct{})}
	r := New(nil, prober)

	type result struct {
		res Resolution
		err error
	}
	first := make(chan result, 1)
	go func() {
		res, err := r.Resolve(context.Background(), payload.Classify("https://slow/a.mp3", nil), "")
		first <- result{res, err}
	}()
	<-prober.entered

	second, err := r.Resolve(context.Background(), payload.Classify("", "SGVsbG8="), "")
	if err != nil {
		t.Fatalf("second Resolve error: %v", err)
	}
	if ok, _ := r.Apply(second, nil); !ok {
		t.Fatal("Apply(second) = false; want true")
	}

	close(prober.release)
	got := <-first
	if !errors.Is(got.err, ErrSuperseded) {
		t.Fatalf("first Resolve error = %v; want ErrSuperseded", got.err)
	}
	if ok, _ := r.Apply(got.res, nil); ok {
		t.Error("stale resolution must not apply")
	}
	if r.Live() != second.Resource {
		t.Error("live resource changed by stale resolution")
	}
	if got.res.Generation >= second.Generation {
		t.Errorf("generations out of order: %d >= %d", got.res.Generation, second.Generation)
	}
}

func TestApplyReleasesPreviousOnce(t *testing.T) {
	blobs := NewBlobs("")
	r := New(blobs, nil)
	ctx := context.Background()

	a, _ := r.Resolve(ctx, payload.Classify("", "SGVsbG8="), "")
	if ok, _ := r.Apply(a, nil); !ok {
		t.Fatal("Apply(a) failed")
	}
	b, _ := r.Resolve(ctx, payload.Classify("", []byte{1, 2, 3}), "")

	stale := Resolution{Generation: a.Generation, Resource: a.Resource}
	if ok, _ := r.Apply(stale, nil); ok {
		t.Error("Apply of an older generation must fail")
	}
	if ok, _ := r.Apply(b, nil); !ok {
		t.Fatal("Apply(b) failed")
	}
	if _, ok := blobs.Lookup(a.Resource.PlayableURI); ok {
		t.Error("previous resource not released")
	}
	if _, ok := blobs.Lookup(b.Resource.PlayableURI); !ok {
		t.Error("live resource released")
	}

	r.Close()
	r.Close()
	if blobs.Len() != 0 {
		t.Errorf("blobs after Close = %d; want 0", blobs.Len())
	}
	if r.Live() != nil {
		t.Error("Live after Close must be nil")
	}
}

func TestBlobsFetchURL(t *testing.T) {
	blobs := NewBlobs("http://localhost:8444/blob/")
	url := blobs.Create([]byte("x"), DefaultMIME)

	got, ok := blobs.FetchURL(url)
	if !ok || got != strings.TrimPrefix(url, "blob:") || !strings.HasPrefix(got, "http://localhost:8444/blob/") {
		t.Errorf("FetchURL = %q, %v", got, ok)
	}
	if _, ok := blobs.FetchURL("https://example.com/a.mp3"); ok {
		t.Error("FetchURL accepted a foreign URL")
	}
	blobs.Revoke(url)
	if _, ok := blobs.FetchURL(url); ok {
		t.Error("FetchURL accepted a revoked URL")
	}
}

func TestBlobsLookupUnknown(t *testing.T) {
	blobs := NewBlobs("")
	if _, ok := blobs.Lookup("blob:not-a-uuid"); ok {
		t.Error("Lookup of malformed URL succeeded")
	}
	blobs.Revoke("blob:not-a-uuid")
}

func TestApplyConfirmFailureKeepsPrevious(t *testing.T) {
	blobs := NewBlobs("")
	r := New(blobs, nil)
	ctx := context.Background()

	a, _ := r.Resolve(ctx, payload.Classify("", "SGVsbG8="), "")
	if ok, _ := r.Apply(a, nil); !ok {
		t.Fatal("Apply(a) failed")
	}

	b, _ := r.Resolve(ctx, payload.Classify("", []byte{1}), "")
	loadErr := errors.New("media rejected source")
	var confirmed string
	ok, err := r.Apply(b, func(res *Resource) error {
		confirmed = res.PlayableURI
		if _, live := blobs.Lookup(a.Resource.PlayableURI); !live {
			t.Error("previous resource released before confirm")
		}
		return loadErr
	})
	if ok || !errors.Is(err, loadErr) {
		t.Fatalf("Apply = %v, %v; want false, loadErr", ok, err)
	}
	if confirmed != b.Resource.PlayableURI {
		t.Errorf("confirm saw %q", confirmed)
	}
	if r.Live() != a.Resource {
		t.Error("live resource replaced despite failed confirm")
	}
	if _, live := blobs.Lookup(b.Resource.PlayableURI); live {
		t.Error("unconfirmed resource not released")
	}
}

func TestReleaseLiveKeepsGeneration(t *testing.T) {
	blobs := NewBlobs("")
	r := New(blobs, nil)
	ctx := context.Background()

	a, _ := r.Resolve(ctx, payload.Classify("", "SGVsbG8="), "")
	if ok, _ := r.Apply(a, nil); !ok {
		t.Fatal("Apply(a) failed")
	}
	r.ReleaseLive()
	if r.Live() != nil || blobs.Len() != 0 {
		t.Errorf("after ReleaseLive live = %v, blobs = %d", r.Live(), blobs.Len())
	}
	if !r.IsCurrent(a.Generation) {
		t.Error("ReleaseLive must not advance the generation")
	}
	r.ReleaseLive()
}
