// Package payload tags a raw audio-bearing value with the encoding it arrives
// in. Classification only looks at shape and prefix; nothing is decoded or
// fetched here.
package payload

import (
	"bytes"
	"io"
	"regexp"
	"strings"
)

// Kind is the encoding tag of a classified source.
type Kind int

const (
	Invalid Kind = iota
	URL
	DataURL
	ObjectURL
	Base64
	RawBytes
)

func (k Kind) String() string {
	switch k {
	case URL:
		return "url"
	case DataURL:
		return "data-url"
	case ObjectURL:
		return "object-url"
	case Base64:
		return "base64"
	case RawBytes:
		return "raw-bytes"
	default:
		return "invalid"
	}
}

const (
	ReasonNoSource     = "no source"
	ReasonUnrecognized = "unrecognized payload format"
)

var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]*={0,2}$`)

// Source is the result of one classification. Exactly one of Text, Bytes or
// Reader carries the payload, depending on Kind.
type Source struct {
	Kind Kind

	// Text holds the URL, data URL, object URL or base64 string.
	Text string

	// Bytes and Reader hold RawBytes payloads.
	Bytes  []byte
	Reader io.Reader

	// Reason explains an Invalid classification.
	Reason string
}

// Valid reports whether the source can be resolved.
func (s Source) Valid() bool {
	return s.Kind != Invalid
}

// Classify picks the encoding of an audio payload. A non-empty url always
// wins over binary.
func Classify(url string, binary any) Source {
	if url != "" {
		return Source{Kind: URL, Text: url}
	}

	switch v := binary.(type) {
	case nil:
		return invalid(ReasonNoSource)
	case string:
		return classifyString(v)
	case []byte:
		if len(v) == 0 {
			return invalid(ReasonNoSource)
		}
		return Source{Kind: RawBytes, Bytes: v}
	case *bytes.Buffer:
		if v == nil || v.Len() == 0 {
			return invalid(ReasonNoSource)
		}
		return Source{Kind: RawBytes, Bytes: v.Bytes()}
	case io.Reader:
		return Source{Kind: RawBytes, Reader: v}
	case interface{ Bytes() []byte }:
		b := v.Bytes()
		if len(b) == 0 {
			return invalid(ReasonNoSource)
		}
		return Source{Kind: RawBytes, Bytes: b}
	}
	return invalid(ReasonUnrecognized)
}

func classifyString(s string) Source {
	switch {
	case s == "":
		return invalid(ReasonNoSource)
	case strings.HasPrefix(s, "data:audio"):
		return Source{Kind: DataURL, Text: s}
	case strings.HasPrefix(s, "blob:"):
		return Source{Kind: ObjectURL, Text: s}
	case IsBase64(s):
		return Source{Kind: Base64, Text: s}
	}
	return invalid(ReasonUnrecognized)
}

// IsBase64 reports whether s uses the standard base64 alphabet with optional
// '=' padding and a length that is a multiple of four.
func IsBase64(s string) bool {
	return len(s)%4 == 0 && base64Pattern.MatchString(s)
}

func invalid(reason string) Source {
	return Source{Kind: Invalid, Reason: reason}
}
