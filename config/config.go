// Package config loads the player component configuration from YAML and
// watches it for changes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/goccy/go-yaml"

	"github.com/bosley/callplay/fieldmap"
)

// Component is the host-supplied configuration of one player instance.
// Styling and label properties of the host editor are not part of it.
type Component struct {
	// AudioURL takes precedence over every binary source when set.
	AudioURL string `yaml:"audioUrl,omitempty"`

	// AudioBinaryString is a base64 string, data:audio URL or blob: URL.
	AudioBinaryString string `yaml:"audioBinaryString,omitempty"`

	// AudioFile is read as raw bytes when neither AudioURL nor
	// AudioBinaryString is set. Relative paths resolve against the config
	// file's directory.
	AudioFile string `yaml:"audioFile,omitempty"`

	// MIMEType types owned binary payloads. Defaults to audio/mpeg.
	MIMEType string `yaml:"mimeType,omitempty"`

	Transcript []map[string]any `yaml:"transcript,omitempty"`

	TimeFormula     string `yaml:"transcriptTimeFormula,omitempty"`
	DurationFormula string `yaml:"transcriptDurationFormula,omitempty"`
	SpeakerFormula  string `yaml:"transcriptSpeakerFormula,omitempty"`
	TextFormula     string `yaml:"transcriptTextFormula,omitempty"`

	InitialSpeed            string `yaml:"initialSpeed,omitempty"`
	AutoPlay                bool   `yaml:"autoPlay,omitempty"`
	ShowTranscriptByDefault bool   `yaml:"showTranscriptByDefault,omitempty"`

	dir string
}

// DefaultTranscript is used when a configuration carries no transcript.
func DefaultTranscript() []map[string]any {
	return []map[string]any{
		{"time": 0, "duration": 3, "speaker": "agent", "text": "Agent: Hello, how can I help you?"},
		{"time": 3, "duration": 5, "speaker": "customer", "text": "Customer: I need support with my account."},
	}
}

// Default returns the configuration of a freshly placed component.
func Default() Component {
	return Component{
		Transcript:   DefaultTranscript(),
		InitialSpeed: "1",
	}
}

// Load reads a component configuration from path. Missing keys keep their
// defaults.
func Load(path string) (Component, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Component{}, fmt.Errorf("failed to read config: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return Component{}, err
	}
	c.dir = filepath.Dir(path)
	return c, nil
}

// Parse decodes a YAML component configuration.
func Parse(data []byte) (Component, error) {
	c := Component{InitialSpeed: "1"}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Component{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if c.Transcript == nil {
		c.Transcript = DefaultTranscript()
	}
	if _, err := c.Mapping(); err != nil {
		return Component{}, err
	}
	return c, nil
}

// Expressions returns the configured field overrides.
func (c Component) Expressions() fieldmap.Expressions {
	return fieldmap.Expressions{
		fieldmap.Time:     c.TimeFormula,
		fieldmap.Duration: c.DurationFormula,
		fieldmap.Speaker:  c.SpeakerFormula,
		fieldmap.Text:     c.TextFormula,
	}
}

// Mapping compiles the field overrides.
func (c Component) Mapping() (*fieldmap.Mapping, error) {
	m, err := fieldmap.FromExpressions(c.Expressions())
	if err != nil {
		return nil, fmt.Errorf("invalid field mapping: %w", err)
	}
	return m, nil
}

// Items returns the transcript as field mapper items.
func (c Component) Items() []fieldmap.Item {
	items := make([]fieldmap.Item, len(c.Transcript))
	for i, item := range c.Transcript {
		items[i] = item
	}
	return items
}

// Payload returns the audio inputs in the shape the classifier expects.
func (c Component) Payload() (url string, binary any, err error) {
	if c.AudioURL != "" || c.AudioBinaryString != "" || c.AudioFile == "" {
		return c.AudioURL, c.AudioBinaryString, nil
	}
	path := c.AudioFile
	if !filepath.IsAbs(path) && c.dir != "" {
		path = filepath.Join(c.dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read audio file: %w", err)
	}
	return "", data, nil
}

// HasAudio reports whether any audio input is set.
func (c Component) HasAudio() bool {
	return c.AudioURL != "" || c.AudioBinaryString != "" || c.AudioFile != ""
}

// SameAudio reports whether c and o describe the same audio input.
func (c Component) SameAudio(o Component) bool {
	return c.AudioURL == o.AudioURL &&
		c.AudioBinaryString == o.AudioBinaryString &&
		c.AudioFile == o.AudioFile &&
		c.MIMEType == o.MIMEType
}

// SameTranscript reports whether c and o yield the same segments.
func (c Component) SameTranscript(o Component) bool {
	return reflect.DeepEqual(c.Transcript, o.Transcript)
}

// SameMapping reports whether c and o use the same field overrides.
func (c Component) SameMapping(o Component) bool {
	return c.TimeFormula == o.TimeFormula &&
		c.DurationFormula == o.DurationFormula &&
		c.SpeakerFormula == o.SpeakerFormula &&
		c.TextFormula == o.TextFormula
}
