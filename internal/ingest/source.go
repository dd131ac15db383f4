package ingest

import (
	"encoding/json"
	"fmt"
)

// SourceType discriminates the Source variants.
type SourceType string

// Source variants persisted on summary documents.
const (
	SourceTypeURL    SourceType = "url"
	SourceTypePreset SourceType = "preset"
)

// Source describes where a summary's text came from. The set of
// implementations is closed: URLSource and PresetSource.
type Source interface {
	Type() SourceType
	sealed()
}

// URLSource is a caller-supplied URL. An empty URL encodes as null.
type URLSource struct {
	URL string
}

// Type implements Source.
func (URLSource) Type() SourceType { return SourceTypeURL }

func (URLSource) sealed() {}

// MarshalJSON encodes the variant with its discriminant.
func (s URLSource) MarshalJSON() ([]byte, error) {
	var url *string
	if s.URL != "" {
		url = &s.URL
	}
	return json.Marshal(struct {
		Type SourceType `json:"type"`
		URL  *string    `json:"url"`
	}{Type: SourceTypeURL, URL: url})
}

// PresetSource is a fixed search configuration against an external provider.
type PresetSource struct {
	Provider string
	URL      string
	Preset   string
}

// Type implements Source.
func (PresetSource) Type() SourceType { return SourceTypePreset }

func (PresetSource) sealed() {}

// MarshalJSON encodes the variant with its discriminant.
func (s PresetSource) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     SourceType `json:"type"`
		Provider string     `json:"provider"`
		URL      string     `json:"url,omitempty"`
		Preset   string     `json:"preset"`
	}{Type: SourceTypePreset, Provider: s.Provider, URL: s.URL, Preset: s.Preset})
}

type sourceWire struct {
	Type     SourceType `json:"type"`
	URL      *string    `json:"url"`
	Provider string     `json:"provider"`
	Preset   string     `json:"preset"`
}

// DecodeSource parses a stored source, dispatching on its "type" field.
// A JSON null yields a nil Source.
func DecodeSource(data []byte) (Source, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var wire sourceWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode source: %w", err)
	}
	url := ""
	if wire.URL != nil {
		url = *wire.URL
	}
	switch wire.Type {
	case SourceTypeURL:
		return URLSource{URL: url}, nil
	case SourceTypePreset:
		return PresetSource{Provider: wire.Provider, URL: url, Preset: wire.Preset}, nil
	default:
		return nil, fmt.Errorf("decode source: unknown type %q", wire.Type)
	}
}
