// Package transcript builds a time-ordered segment index from transcript
// items and answers which segment is active at a playback time.
package transcript

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/bosley/callplay/fieldmap"
)

// Well-known speaker roles.
const (
	RoleAgent    = "agent"
	RoleCustomer = "customer"
)

// Segment is one normalized transcript entry. Segments are never modified
// after Build.
type Segment struct {
	StartTime   float64 `json:"startTime"`
	Duration    float64 `json:"duration"`
	EndTime     float64 `json:"endTime"`
	Speaker     string  `json:"speaker"`
	Text        string  `json:"text"`
	SourceIndex int     `json:"sourceIndex"`
}

// Contains reports whether t falls inside [StartTime, EndTime).
func (s Segment) Contains(t float64) bool {
	return s.StartTime <= t && t < s.EndTime
}

// Role folds the speaker into agent, customer or the raw speaker name.
func (s Segment) Role() string {
	switch strings.ToLower(strings.TrimSpace(s.Speaker)) {
	case RoleAgent:
		return RoleAgent
	case RoleCustomer:
		return RoleCustomer
	}
	return s.Speaker
}

// Label renders the segment as "m:ss - Speaker" for listings.
func (s Segment) Label() string {
	speaker := s.Speaker
	if speaker == "" {
		speaker = "Unknown"
	}
	return FormatTimestamp(s.StartTime) + " - " + speaker
}

// FormatTimestamp renders seconds as m:ss.
func FormatTimestamp(seconds float64) string {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return "0:00"
	}
	total := int(math.Floor(seconds))
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// Index is an immutable, start-time ordered list of segments.
type Index struct {
	segments []Segment
}

// Build maps every item through m and sorts the result by start time. Ties
// keep their original order. A nil mapping uses the default candidate keys.
func Build(items []fieldmap.Item, m *fieldmap.Mapping) *Index {
	if m == nil {
		m = fieldmap.New()
	}

	segments := make([]Segment, 0, len(items))
	for i, item := range items {
		v := m.Map(item)
		if len(v.Missing) > 0 {
			slog.Debug("Transcript item missing fields, using defaults",
				"sourceIndex", i,
				"missing", v.Missing)
		}

		start := clamp(v.Time)
		duration := clamp(v.Duration)
		segments = append(segments, Segment{
			StartTime:   start,
			Duration:    duration,
			EndTime:     start + duration,
			Speaker:     v.Speaker,
			Text:        v.Text,
			SourceIndex: i,
		})
	}

	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].StartTime < segments[j].StartTime
	})

	return &Index{segments: segments}
}

func clamp(v float64) float64 {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Len returns the number of segments.
func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	return len(x.segments)
}

// Segment returns the segment at position i in start-time order.
func (x *Index) Segment(i int) (Segment, bool) {
	if i < 0 || i >= x.Len() {
		return Segment{}, false
	}
	return x.segments[i], true
}

// Segments returns a copy of the ordered segments.
func (x *Index) Segments() []Segment {
	if x == nil {
		return nil
	}
	return append([]Segment(nil), x.segments...)
}

// Lookup returns the position of the last segment starting at or before t,
// provided t is still before its end. Overlaps therefore resolve to the
// later-starting segment.
func (x *Index) Lookup(t float64) (int, bool) {
	if x.Len() == 0 || math.IsNaN(t) {
		return -1, false
	}
	i := sort.Search(len(x.segments), func(i int) bool {
		return x.segments[i].StartTime > t
	}) - 1
	if i < 0 || t >= x.segments[i].EndTime {
		return -1, false
	}
	return i, true
}
