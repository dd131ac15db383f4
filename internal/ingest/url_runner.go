package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"
)

// URLRunner fetches a caller-supplied URL and extracts its text.
type URLRunner struct {
	fetcher      *Fetcher
	maxURLLength int
	maxTextChars int
	blocklist    *DomainBlocklist
}

// URLRunnerConfig overrides the runner limits; zero values keep the defaults.
type URLRunnerConfig struct {
	MaxURLLength int
	MaxTextChars int
	// BlockedDomains extends the built-in host guard for caller URLs.
	BlockedDomains []string
}

// NewURLRunner builds a URLRunner on top of fetcher.
func NewURLRunner(fetcher *Fetcher, cfg URLRunnerConfig) *URLRunner {
	if cfg.MaxURLLength <= 0 {
		cfg.MaxURLLength = MaxURLLength
	}
	if cfg.MaxTextChars <= 0 {
		cfg.MaxTextChars = MaxTextChars
	}
	return &URLRunner{
		fetcher:      fetcher,
		maxURLLength: cfg.MaxURLLength,
		maxTextChars: cfg.MaxTextChars,
		blocklist:    NewDomainBlocklist(cfg.BlockedDomains),
	}
}

// Run validates rawURL, fetches it and returns the extracted text.
func (r *URLRunner) Run(ctx context.Context, rawURL string) (Result, error) {
	target, err := r.ValidateURL(rawURL)
	if err != nil {
		return Result{}, err
	}

	resp, err := r.fetcher.Fetch(ctx, FetchRequest{
		Method: http.MethodGet,
		URL:    target.String(),
		Header: http.Header{"Accept": {"text/html, text/plain;q=0.9, */*;q=0.1"}},
	})
	if err != nil {
		return Result{}, err
	}
	if !resp.OK() {
		_ = resp.Close()
		return Result{}, NewError(http.StatusBadGateway, ErrUpstreamHTTP,
			fmt.Sprintf("Upstream returned HTTP %d", resp.StatusCode))
	}

	mediaType := resp.MediaType()
	if mediaType != ContentTypeHTML && mediaType != ContentTypePlain {
		_ = resp.Close()
		shown := mediaType
		if shown == "" {
			shown = "unknown"
		}
		return Result{}, NewError(http.StatusUnsupportedMediaType, ErrUnsupportedContentType,
			"Unsupported content type: "+shown)
	}

	body, err := resp.ReadBody()
	if err != nil {
		return Result{}, err
	}

	text := body
	if mediaType == ContentTypeHTML {
		text = ExtractTextFromHTML(body)
	}
	return Result{
		NormalizedURL: target.String(),
		ContentType:   mediaType,
		Text:          TruncateChars(CollapseWhitespace(text), r.maxTextChars),
	}, nil
}

// ValidateURL applies the input checks in order and returns the normalized URL.
func (r *URLRunner) ValidateURL(rawURL string) (*url.URL, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return nil, Validation("Missing 'url' in request body")
	}
	if utf8.RuneCountInString(trimmed) > r.maxURLLength {
		return nil, Validation(fmt.Sprintf("URL too long (max %d chars)", r.maxURLLength))
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || !parsed.IsAbs() {
		return nil, Validation("Invalid URL")
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, Validation("Only http/https URLs are allowed")
	}
	host := CanonicalHost(parsed.Hostname())
	if IsBlockedHostname(host) || r.blocklist.IsBlocked(host) {
		return nil, Validation("URL host is not allowed")
	}
	return normalizeURL(parsed), nil
}

// normalizeURL mirrors a WHATWG serializer for http(s): lowercase scheme and
// host, default port dropped, empty path rendered as "/".
func normalizeURL(u *url.URL) *url.URL {
	out := *u
	out.Scheme = strings.ToLower(u.Scheme)
	host := CanonicalHost(u.Hostname())
	port := u.Port()
	if (out.Scheme == "http" && port == "80") || (out.Scheme == "https" && port == "443") {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		host += ":" + port
	}
	out.Host = host
	if out.Path == "" && out.Opaque == "" {
		out.Path = "/"
		out.RawPath = ""
	}
	return &out
}
