// Package secrets resolves secret:// references against Google Secret Manager, with an in-process
// cache and a local fallback file for development.
package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/gourav-1711/jewellery-backend/internal/platform/config"
)

const (
	defaultFallbackPath = ".secrets.local"
	defaultFetchTimeout = 10 * time.Second
	meterName           = "github.com/gourav-1711/jewellery-backend/internal/platform/secrets"
)

// Client is the subset of the Secret Manager client used by the fetcher.
type Client interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret references. It satisfies config.SecretResolver.
type Fetcher struct {
	client     Client
	ownsClient bool
	logger     *zap.Logger
	project    string
	timeout    time.Duration

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string
	fallbackErr  error

	mu    sync.RWMutex
	cache map[string]string

	latency metric.Float64Histogram
}

var _ config.SecretResolver = (*Fetcher)(nil)

type options struct {
	logger   *zap.Logger
	client   Client
	clientOp []option.ClientOption
	fallback string
	meter    metric.Meter
	timeout  time.Duration
}

// Option customises NewFetcher.
type Option func(*options)

func WithLogger(logger *zap.Logger) Option { return func(o *options) { o.logger = logger } }

// WithClient injects a Secret Manager client; the fetcher will not close it.
func WithClient(client Client) Option { return func(o *options) { o.client = client } }

func WithClientOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.clientOp = append(o.clientOp, opts...) }
}

func WithMeter(m metric.Meter) Option { return func(o *options) { o.meter = m } }

func WithFetchTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

// WithFallbackFile overrides the fallback file path. An empty path disables the fallback.
func WithFallbackFile(path string) Option {
	return func(o *options) { o.fallback = strings.TrimSpace(path) }
}

// NewFetcher builds a fetcher for cfg. When no Secret Manager client can be created the fetcher runs
// in fallback-only mode.
func NewFetcher(ctx context.Context, cfg config.SecretsConfig, opts ...Option) (*Fetcher, error) {
	o := options{logger: zap.NewNop(), fallback: defaultFallbackPath, timeout: defaultFetchTimeout}
	if cfg.FallbackFile != "" {
		o.fallback = cfg.FallbackFile
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.meter == nil {
		o.meter = otel.GetMeterProvider().Meter(meterName)
	}
	latency, err := o.meter.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of secret resolution by source"))
	if err != nil {
		o.logger.Warn("secrets: latency metric unavailable", zap.Error(err))
	}

	f := &Fetcher{
		client:       o.client,
		logger:       o.logger,
		project:      strings.TrimSpace(cfg.DefaultProject),
		timeout:      o.timeout,
		fallbackPath: o.fallback,
		cache:        make(map[string]string),
		latency:      latency,
	}
	if f.client == nil && f.project != "" {
		client, err := secretmanager.NewClient(ctx, o.clientOp...)
		if err != nil {
			o.logger.Warn("secrets: secret manager unavailable, using fallback file only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret resolves ref such as "secret://razorpay_key_secret?version=3&project=p".
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	start := time.Now()
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	if value, ok := f.cached(parsed.key()); ok {
		f.record(ctx, start, "cache")
		return value, nil
	}

	project := parsed.project
	if project == "" {
		project = f.project
	}
	if project != "" && f.client != nil {
		value, err := f.fetchRemote(ctx, project, parsed)
		if err == nil {
			f.store(parsed.key(), value)
			f.record(ctx, start, "remote")
			return value, nil
		}
		if !fallbackAllowed(err) {
			f.record(ctx, start, "error")
			return "", fmt.Errorf("secrets: fetch %s: %w", parsed.canonical, err)
		}
		f.logger.Debug("secrets: using fallback", zap.String("secret", parsed.name), zap.Error(err))
	}

	value, ok, err := f.lookupFallback(parsed)
	if err != nil {
		f.record(ctx, start, "error")
		return "", err
	}
	if !ok {
		f.record(ctx, start, "error")
		return "", fmt.Errorf("secrets: no value for %s", parsed.canonical)
	}
	f.store(parsed.key(), value)
	f.record(ctx, start, "fallback")
	return value, nil
}

func (f *Fetcher) fetchRemote(ctx context.Context, project string, ref reference) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.name, ref.versionOrLatest())
	resp, err := f.client.AccessSecretVersion(ctx,
		&secretmanagerpb.AccessSecretVersionRequest{Name: name},
		gax.WithTimeout(f.timeout))
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secret manager returned empty payload for %s", name)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.cache[key]
	return v, ok
}

func (f *Fetcher) store(key, value string) {
	f.mu.Lock()
	f.cache[key] = value
	f.mu.Unlock()
}

// Invalidate drops the cached value so the next resolve fetches again.
func (f *Fetcher) Invalidate(ref string) {
	parsed, err := parseReference(ref)
	if err != nil {
		return
	}
	f.mu.Lock()
	delete(f.cache, parsed.key())
	f.mu.Unlock()
}

func (f *Fetcher) lookupFallback(ref reference) (string, bool, error) {
	f.fallbackOnce.Do(f.loadFallback)
	if f.fallbackErr != nil {
		return "", false, f.fallbackErr
	}
	if v, ok := f.fallback[ref.key()]; ok {
		return v, true, nil
	}
	v, ok := f.fallback[ref.canonical]
	return v, ok, nil
}

// loadFallback parses "secret://name=value" lines. Blank lines and # comments are skipped.
func (f *Fetcher) loadFallback() {
	f.fallback = map[string]string{}
	if f.fallbackPath == "" {
		return
	}
	file, err := os.Open(f.fallbackPath)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		f.fallbackErr = fmt.Errorf("secrets: open fallback file: %w", err)
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if strings.HasPrefix(key, "sm://") {
			key = "secret://" + strings.TrimPrefix(key, "sm://")
		}
		parsed, err := parseReference(key)
		if err != nil {
			continue
		}
		value = strings.TrimSpace(value)
		f.fallback[parsed.canonical] = value
		f.fallback[parsed.key()] = value
	}
	if err := scanner.Err(); err != nil {
		f.fallbackErr = fmt.Errorf("secrets: read fallback file: %w", err)
	}
}

func (f *Fetcher) record(ctx context.Context, start time.Time, source string) {
	if f.latency == nil {
		return
	}
	f.latency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("source", source)))
}

type reference struct {
	canonical string
	name      string
	version   string
	project   string
}

func (r reference) versionOrLatest() string {
	if r.version == "" {
		return "latest"
	}
	return r.version
}

func (r reference) key() string { return r.canonical + "#" + r.versionOrLatest() }

func parseReference(ref string) (reference, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	q := u.Query()
	return reference{
		canonical: "secret://" + name,
		name:      name,
		version:   strings.TrimSpace(q.Get("version")),
		project:   strings.TrimSpace(q.Get("project")),
	}, nil
}

func fallbackAllowed(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded, codes.NotFound:
		return true
	default:
		return false
	}
}
