package ingest

import (
	"context"
	"net/http"
)

// Request body keys that short-circuit the preset runner in test environments.
const (
	ForceFailureKey = "__forceFailure"
	ForceSuccessKey = "__forceSuccess"
)

// PresetRunner runs a fixed search.
type PresetRunner interface {
	Run(ctx context.Context) (Result, error)
}

// ForcedPreset lets integration tests drive the preset endpoint without
// reaching the real site. Flags are honored only when Enabled is set and only
// for a literal JSON true.
type ForcedPreset struct {
	Next      PresetRunner
	Enabled   bool
	SourceURL string
}

// Run checks the force flags in body before delegating to Next.
func (f ForcedPreset) Run(ctx context.Context, body map[string]any) (Result, error) {
	if f.Enabled {
		if flagSet(body, ForceFailureKey) {
			return Result{}, NewError(http.StatusBadGateway, ErrForcedFailure,
				"Forced supreme search failure for integration test")
		}
		if flagSet(body, ForceSuccessKey) {
			return f.synthetic(), nil
		}
	}
	return f.Next.Run(ctx)
}

func (f ForcedPreset) synthetic() Result {
	sourceURL := f.SourceURL
	if sourceURL == "" {
		sourceURL = SupremeSearchURL
	}
	return Result{
		SourceURL:   sourceURL,
		ContentType: ContentTypeHTML,
		Text:        "Synthetic supreme search result for emulator integration test",
		Meta: &PresetMeta{
			Preset:      "last_week_material_only_criminal_over_2_pages",
			DateFrom:    "01/01/2025",
			DateTo:      "08/01/2025",
			MinPages:    2,
			Materiality: "מהותיות בלבד",
			Section:     "פלילי",
		},
	}
}

func flagSet(body map[string]any, key string) bool {
	v, ok := body[key].(bool)
	return ok && v
}
