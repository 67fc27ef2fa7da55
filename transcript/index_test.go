package transcript

import (
	"math/rand"
	"testing"

	"github.com/bosley/callplay/fieldmap"
)

func callTranscript() []fieldmap.Item {
	return []fieldmap.Item{
		{"time": 0, "duration": 3, "speaker": "agent", "text": "Agent: Hello, how can I help you?"},
		{"time": 3, "duration": 5, "speaker": "customer", "text": "Customer: I need support with my account."},
	}
}

func TestLookupScenario(t *testing.T) {
	idx := Build(callTranscript(), nil)

	tests := []struct {
		t      float64
		want   int
		wantOK bool
	}{
		{0, 0, true},
		{2.9, 0, true},
		{3, 1, true},
		{4, 1, true},
		{7.99, 1, true},
		{8, -1, false},
		{-1, -1, false},
		{100, -1, false},
	}
	for _, tc := range tests {
		got, ok := idx.Lookup(tc.t)
		if got != tc.want || ok != tc.wantOK {
			t.Errorf("Lookup(%v) = %d, %v; want %d, %v", tc.t, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestBuildSortsStable(t *testing.T) {
	items := []fieldmap.Item{
		{"time": 5, "duration": 1, "text": "c"},
		{"time": 1, "duration": 1, "text": "a"},
		{"time": 5, "duration": 1, "text": "d"},
		{"time": 2, "duration": 1, "text": "b"},
	}
	idx := Build(items, nil)

	want := []string{"a", "b", "c", "d"}
	wantSource := []int{1, 3, 0, 2}
	for i, s := range idx.Segments() {
		if s.Text != want[i] || s.SourceIndex != wantSource[i] {
			t.Errorf("segment %d = %q/%d; want %q/%d", i, s.Text, s.SourceIndex, want[i], wantSource[i])
		}
	}
}

func TestBuildAlwaysSorted(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		items := make([]fieldmap.Item, 30)
		for i := range items {
			items[i] = fieldmap.Item{"time": float64(rng.Intn(20)), "duration": float64(rng.Intn(4))}
		}
		segs := Build(items, nil).Segments()
		for i := 1; i < len(segs); i++ {
			prev, cur := segs[i-1], segs[i]
			if prev.StartTime > cur.StartTime ||
				(prev.StartTime == cur.StartTime && prev.SourceIndex > cur.SourceIndex) {
				t.Fatalf("round %d: segments %d and %d out of order", round, i-1, i)
			}
		}
	}
}

func TestLookupMatchesLinearScan(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	items := make([]fieldmap.Item, 40)
	for i := range items {
		items[i] = fieldmap.Item{"time": rng.Float64() * 60, "duration": rng.Float64() * 5}
	}
	idx := Build(items, nil)
	segs := idx.Segments()

	for step := 0; step < 700; step++ {
		tm := float64(step) / 10
		want := -1
		for i, s := range segs {
			if s.StartTime <= tm {
				want = i
			}
		}
		if want >= 0 && !segs[want].Contains(tm) {
			want = -1
		}
		got, ok := idx.Lookup(tm)
		if got != want || ok != (want >= 0) {
			t.Fatalf("Lookup(%v) = %d, %v; want %d", tm, got, ok, want)
		}
	}
}

func TestLookupOverlapLaterStartWins(t *testing.T) {
	idx := Build([]fieldmap.Item{
		{"time": 2, "duration": 4, "text": "late"},
		{"time": 0, "duration": 5, "text": "early"},
	}, nil)

	i, ok := idx.Lookup(3)
	if !ok {
		t.Fatal("Lookup(3) found nothing")
	}
	if s, _ := idx.Segment(i); s.Text != "late" {
		t.Errorf("Lookup(3) = %q; want later-starting segment", s.Text)
	}
	i, _ = idx.Lookup(1)
	if s, _ := idx.Segment(i); s.Text != "early" {
		t.Errorf("Lookup(1) = %q; want early", s.Text)
	}
}

func TestBuildFallbackFields(t *testing.T) {
	idx := Build([]fieldmap.Item{{"start_time": 12, "duration": 4, "text": "hi"}}, nil)
	s, ok := idx.Segment(0)
	if !ok {
		t.Fatal("missing segment")
	}
	if s.StartTime != 12 || s.EndTime != 16 || s.Speaker != "unknown" || s.Text != "hi" {
		t.Errorf("segment = %+v", s)
	}
}

func TestBuildClampsNegative(t *testing.T) {
	idx := Build([]fieldmap.Item{{"time": -4, "duration": -1}}, nil)
	s, _ := idx.Segment(0)
	if s.StartTime != 0 || s.Duration != 0 || s.EndTime != 0 {
		t.Errorf("segment = %+v; want zeros", s)
	}
	if _, ok := idx.Lookup(0); ok {
		t.Error("zero-length segment must never be active")
	}
}

func TestEmptyIndex(t *testing.T) {
	var nilIdx *Index
	if _, ok := nilIdx.Lookup(1); ok {
		t.Error("nil index lookup succeeded")
	}
	idx := Build(nil, nil)
	if idx.Len() != 0 {
		t.Errorf("Len = %d", idx.Len())
	}
	if _, ok := idx.Segment(0); ok {
		t.Error("Segment(0) on empty index succeeded")
	}
}

func TestLabels(t *testing.T) {
	tests := []struct {
		seg  Segment
		want string
	}{
		{Segment{StartTime: 0, Speaker: "agent"}, "0:00 - agent"},
		{Segment{StartTime: 75.6, Speaker: "customer"}, "1:15 - customer"},
		{Segment{StartTime: 3600}, "60:00 - Unknown"},
	}
	for _, tc := range tests {
		if got := tc.seg.Label(); got != tc.want {
			t.Errorf("Label = %q; want %q", got, tc.want)
		}
	}

	if (Segment{Speaker: " Agent "}).Role() != RoleAgent {
		t.Error("Role did not fold agent")
	}
	if (Segment{Speaker: "supervisor"}).Role() != "supervisor" {
		t.Error("Role changed an unknown speaker")
	}
}
