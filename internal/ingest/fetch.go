package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/JakeFAU/summary-ingestor/internal/metrics"
)

const (
	readChunkSize = 32 * 1024
	maxRedirects  = 10
	tracerName    = "github.com/JakeFAU/summary-ingestor/internal/ingest"
)

var errBlockedRedirect = errors.New("redirect target host is not allowed")

// FetcherConfig controls the bounded fetcher.
type FetcherConfig struct {
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string
}

// FetchRequest describes a single upstream call.
type FetchRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   string
}

// Fetcher performs HTTP calls under a hard deadline and response-size ceiling.
type Fetcher struct {
	client *http.Client
	cfg    FetcherConfig
}

// NewFetcher builds a Fetcher. A nil client gets a pooled default transport.
// Redirects are followed up to 10 hops and every hop is re-checked with
// IsBlockedHostname.
func NewFetcher(cfg FetcherConfig, client *http.Client) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = FetchTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = MaxResponseBytes
	}
	var c http.Client
	if client != nil {
		c = *client
	} else {
		c.Transport = NewHTTPTransport()
	}
	c.CheckRedirect = checkRedirect
	return &Fetcher{client: &c, cfg: cfg}
}

// Timeout returns the configured wall-clock budget per transfer.
func (f *Fetcher) Timeout() time.Duration {
	return f.cfg.Timeout
}

// Fetch sends the request. The returned Response holds the deadline open until
// its body is read or it is closed; callers must do one of the two.
func (f *Fetcher) Fetch(ctx context.Context, request FetchRequest) (*Response, error) {
	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ingest.fetch")
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.url", request.URL),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	var body io.Reader
	if request.Body != "" {
		body = strings.NewReader(request.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, request.URL, body)
	if err != nil {
		cancel()
		return nil, WrapError(http.StatusBadGateway, ErrFetch, "Fetch failed: "+err.Error(), err)
	}
	for key, values := range request.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if f.cfg.UserAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		cancel()
		fetchErr := f.transportError(ctx, err)
		_, errType, _ := Classify(fetchErr)
		metrics.ObserveFetch(request.URL, strings.ToLower(string(errType)))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(errType))
		return nil, fetchErr
	}
	metrics.ObserveFetch(request.URL, metrics.StatusClass(resp.StatusCode))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	finalURL := request.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		URL:        finalURL,
		body:       resp.Body,
		ctx:        ctx,
		cancel:     cancel,
		fetcher:    f,
	}, nil
}

func (f *Fetcher) transportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return f.timeoutError(err)
	}
	if errors.Is(err, errBlockedRedirect) {
		return WrapError(http.StatusBadGateway, ErrFetch, "Fetch failed: "+errBlockedRedirect.Error(), err)
	}
	return WrapError(http.StatusBadGateway, ErrFetch, "Fetch failed: "+transportReason(err), err)
}

func (f *Fetcher) timeoutError(cause error) error {
	message := fmt.Sprintf("Fetch timed out after %g seconds", f.cfg.Timeout.Seconds())
	return WrapError(http.StatusGatewayTimeout, ErrFetchTimeout, message, cause)
}

func transportReason(err error) string {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Err != nil {
		return opErr.Err.Error()
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Error()
	}
	return err.Error()
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if IsBlockedHostname(CanonicalHost(req.URL.Hostname())) {
		return errBlockedRedirect
	}
	return nil
}

// Response is an upstream response whose body has not been read yet.
type Response struct {
	StatusCode int
	Header     http.Header
	// URL is the final URL after redirects.
	URL string

	body    io.ReadCloser
	ctx     context.Context
	cancel  context.CancelFunc
	fetcher *Fetcher
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// MediaType returns the lowercased media type of the Content-Type header
// without parameters, or "" when absent.
func (r *Response) MediaType() string {
	raw := r.Header.Get("Content-Type")
	if raw == "" {
		return ""
	}
	if mediaType, _, err := mime.ParseMediaType(raw); err == nil {
		return mediaType
	}
	return strings.ToLower(strings.TrimSpace(strings.SplitN(raw, ";", 2)[0]))
}

// Close aborts the transfer and releases the deadline.
func (r *Response) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.body == nil {
		return nil
	}
	if err := r.body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}
	return nil
}

// ReadBody streams the body under the fetcher's size ceiling and closes the
// response.
func (r *Response) ReadBody() (string, error) {
	defer func() {
		_ = r.Close()
	}()
	if r.body == nil {
		return "", nil
	}
	text, n, err := readLimited(r.body, r.fetcher.cfg.MaxBytes)
	metrics.ObserveFetchBytes(r.URL, n)
	if err == nil {
		return text, nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return "", err
	}
	if errors.Is(r.ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return "", r.fetcher.timeoutError(err)
	}
	return "", WrapError(http.StatusBadGateway, ErrFetch, "Fetch failed: "+transportReason(err), err)
}

// ReadBodyWithLimit reads body chunk by chunk and fails with ResponseTooLarge
// as soon as more than limit bytes have arrived. Invalid UTF-8 sequences are
// replaced with U+FFFD.
func ReadBodyWithLimit(body io.Reader, limit int64) (string, error) {
	text, _, err := readLimited(body, limit)
	return text, err
}

func readLimited(body io.Reader, limit int64) (string, int, error) {
	var (
		buf   bytes.Buffer
		chunk = make([]byte, readChunkSize)
		total int64
	)
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			total += int64(n)
			if total > limit {
				return "", int(total), tooLargeError(limit)
			}
			buf.Write(chunk[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", int(total), fmt.Errorf("read body: %w", err)
		}
	}
	return strings.ToValidUTF8(buf.String(), "�"), int(total), nil
}

func tooLargeError(limit int64) error {
	message := fmt.Sprintf("Response body too large (max %d MB)", limit/(1024*1024))
	if limit%(1024*1024) != 0 {
		message = fmt.Sprintf("Response body too large (max %d bytes)", limit)
	}
	return NewError(http.StatusRequestEntityTooLarge, ErrResponseTooLarge, message)
}

// NewHTTPTransport returns the transport used when no client is injected.
func NewHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
