package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Defaults for the Supreme Court "last week's decisions" preset.
const (
	SupremeSearchURL  = "https://supreme.court.gov.il/Pages/fullsearch.aspx"
	SupremeProvider   = "supreme.court.gov.il"
	SupremePresetName = "last_week_decisions_over_2_pages"

	supremeLookbackDays = 7
	supremeMinPages     = 3
	supremeFreeText     = "החלטה"
	supremeSubmitLabel  = "חפש"
	formDateLayout      = "02/01/2006"
)

// SupremeConfig parameterizes the preset search. Zero values fall back to
// the package defaults.
type SupremeConfig struct {
	SearchURL    string
	Provider     string
	Preset       string
	MinPages     int
	FreeText     string
	SubmitLabel  string
	Location     *time.Location
	MaxTextChars int
}

// SupremeSearch runs the two-phase landing and submit scrape.
type SupremeSearch struct {
	fetcher  *Fetcher
	resolver FormFieldResolver
	clock    Clock
	cfg      SupremeConfig
}

// NewSupremeSearch builds the preset runner. A nil resolver uses
// DefaultFieldResolver.
func NewSupremeSearch(fetcher *Fetcher, resolver FormFieldResolver, clock Clock, cfg SupremeConfig) *SupremeSearch {
	if resolver == nil {
		resolver = DefaultFieldResolver()
	}
	if cfg.SearchURL == "" {
		cfg.SearchURL = SupremeSearchURL
	}
	if cfg.Provider == "" {
		cfg.Provider = SupremeProvider
	}
	if cfg.Preset == "" {
		cfg.Preset = SupremePresetName
	}
	if cfg.MinPages <= 0 {
		cfg.MinPages = supremeMinPages
	}
	if cfg.FreeText == "" {
		cfg.FreeText = supremeFreeText
	}
	if cfg.SubmitLabel == "" {
		cfg.SubmitLabel = supremeSubmitLabel
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxTextChars <= 0 {
		cfg.MaxTextChars = MaxTextChars
	}
	return &SupremeSearch{fetcher: fetcher, resolver: resolver, clock: clock, cfg: cfg}
}

// WithClock returns a copy of s that computes its date window from clock.
func (s *SupremeSearch) WithClock(clock Clock) *SupremeSearch {
	out := *s
	out.clock = clock
	return &out
}

// Source describes where preset results come from.
func (s *SupremeSearch) Source() PresetSource {
	return PresetSource{Provider: s.cfg.Provider, URL: s.cfg.SearchURL, Preset: s.cfg.Preset}
}

// Run fetches the landing page, submits the search form and extracts the
// result text.
func (s *SupremeSearch) Run(ctx context.Context) (Result, error) {
	landing, err := s.fetcher.Fetch(ctx, FetchRequest{Method: http.MethodGet, URL: s.cfg.SearchURL})
	if err != nil {
		return Result{}, err
	}
	if !landing.OK() {
		_ = landing.Close()
		return Result{}, NewError(http.StatusBadGateway, ErrSupremeLanding,
			fmt.Sprintf("Supreme search landing failed: %d", landing.StatusCode))
	}
	landingHTML, err := landing.ReadBody()
	if err != nil {
		return Result{}, err
	}

	now := s.clock.Now().In(s.cfg.Location)
	dateFrom := now.AddDate(0, 0, -supremeLookbackDays).Format(formDateLayout)
	dateTo := now.Format(formDateLayout)

	form := url.Values{}
	for name, value := range ExtractHiddenFields(landingHTML) {
		form.Set(name, value)
	}
	s.setAll(form, FieldDateFrom, dateFrom)
	s.setAll(form, FieldDateTo, dateTo)
	s.setAll(form, FieldMinPages, strconv.Itoa(s.cfg.MinPages))
	s.setAll(form, FieldFreeText, s.cfg.FreeText)
	s.setAll(form, FieldSubmit, s.cfg.SubmitLabel)

	header := http.Header{}
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	header.Set("Origin", originOf(s.cfg.SearchURL))
	header.Set("Referer", s.cfg.SearchURL)

	resp, err := s.fetcher.Fetch(ctx, FetchRequest{
		Method: http.MethodPost,
		URL:    s.cfg.SearchURL,
		Header: header,
		Body:   form.Encode(),
	})
	if err != nil {
		return Result{}, err
	}
	if !resp.OK() {
		_ = resp.Close()
		return Result{}, NewError(http.StatusBadGateway, ErrSupremeSearch,
			fmt.Sprintf("Supreme search request failed: %d", resp.StatusCode))
	}
	mediaType := resp.MediaType()
	if mediaType != ContentTypeHTML {
		_ = resp.Close()
		shown := mediaType
		if shown == "" {
			shown = "unknown"
		}
		return Result{}, NewError(http.StatusUnsupportedMediaType, ErrUnsupportedContentType,
			"Unexpected response from supreme search: "+shown)
	}
	resultHTML, err := resp.ReadBody()
	if err != nil {
		return Result{}, err
	}
	text := TruncateChars(ExtractTextFromHTML(resultHTML), s.cfg.MaxTextChars)
	if text == "" {
		return Result{}, NewError(http.StatusBadGateway, ErrSupremeEmptyResult,
			"Supreme search returned empty results text")
	}

	return Result{
		SourceURL:   s.cfg.SearchURL,
		ContentType: ContentTypeHTML,
		Text:        text,
		Meta: &PresetMeta{
			Preset:   s.cfg.Preset,
			DateFrom: dateFrom,
			DateTo:   dateTo,
			MinPages: s.cfg.MinPages,
		},
	}, nil
}

func (s *SupremeSearch) setAll(form url.Values, field FormField, value string) {
	for _, name := range s.resolver.Candidates(field) {
		form.Set(name, value)
	}
}

// ExtractHiddenFields scrapes every hidden input into a name to value map.
// Inputs without a name are skipped and a missing value reads as "".
func ExtractHiddenFields(page string) map[string]string {
	fields := make(map[string]string)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return fields
	}
	doc.Find("input").Each(func(_ int, input *goquery.Selection) {
		if !strings.EqualFold(strings.TrimSpace(input.AttrOr("type", "")), "hidden") {
			return
		}
		name := input.AttrOr("name", "")
		if name == "" {
			return
		}
		fields[name] = input.AttrOr("value", "")
	})
	return fields
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
