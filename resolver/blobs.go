package resolver

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

const blobScheme = "blob:"

// Blob is an in-memory audio payload addressable by an object URL.
type Blob struct {
	ID   uuid.UUID
	MIME string
	Data []byte
}

// Blobs is the registry behind owned object URLs. A URL stays servable until
// it is revoked.
//
// Minted URLs look like "blob:<base><uuid>". They are only meaningful to this
// process; a remote host (a browser on another origin in particular) fetches
// the bytes from the plain HTTP URL returned by FetchURL, which the server
// answers at GET /blob/{id}.
type Blobs struct {
	blobs map[uuid.UUID]*Blob
	mu    sync.RWMutex

	// Base is prepended to the blob id when minting URLs, e.g.
	// "http://localhost:8444/blob/".
	base string
}

func NewBlobs(base string) *Blobs {
	return &Blobs{
		blobs: make(map[uuid.UUID]*Blob),
		base:  base,
	}
}

// Create registers data and returns its object URL.
func (b *Blobs) Create(data []byte, mime string) string {
	blob := &Blob{
		ID:   uuid.New(),
		MIME: mime,
		Data: data,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[blob.ID] = blob
	return blobScheme + b.base + blob.ID.String()
}

// Revoke drops the blob behind url. Unknown URLs are ignored.
func (b *Blobs) Revoke(url string) {
	id, ok := b.parse(url)
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blobs, id)
}

// Lookup resolves an object URL or a bare blob id.
func (b *Blobs) Lookup(url string) (*Blob, bool) {
	id, ok := b.parse(url)
	if !ok {
		return nil, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	blob, ok := b.blobs[id]
	return blob, ok
}

// FetchURL returns the plain URL a remote host can GET for an owned object
// URL. It reports false for URLs this registry did not mint or has revoked.
func (b *Blobs) FetchURL(url string) (string, bool) {
	if b.base == "" || !strings.HasPrefix(url, blobScheme+b.base) {
		return "", false
	}
	if _, ok := b.Lookup(url); !ok {
		return "", false
	}
	return strings.TrimPrefix(url, blobScheme), true
}

// Len returns the number of live blobs.
func (b *Blobs) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.blobs)
}

func (b *Blobs) parse(url string) (uuid.UUID, bool) {
	s := strings.TrimPrefix(url, blobScheme)
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
