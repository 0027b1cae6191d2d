// Package metadata fetches and validates the off-chain JSON documents token URIs point to.
package metadata

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/pilacorp/go-attestation-sdk/logging"
)

const (
	DefaultGateway = "https://ipfs.io/ipfs/"
	DefaultTimeout = 10 * time.Second

	maxDocumentSize = 1 << 20
)

var (
	// ErrFetch is returned when the document could not be retrieved.
	ErrFetch = errors.New("metadata fetch failed")
	// ErrInvalidDocument is returned when the document does not match the metadata schema.
	ErrInvalidDocument = errors.New("invalid metadata document")
)

//go:embed document.schema.json
var documentSchema []byte

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(documentSchema))
	})
	return schema, schemaErr
}

// Document is the display metadata of a token.
type Document struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

// Source resolves the metadata document of a token from its raw URI.
type Source interface {
	Fetch(ctx context.Context, rawURI string, tokenID uint64) (Document, error)
}

// Options configures a Fetcher.
type Options struct {
	// Gateway is the HTTP prefix ipfs:// URIs are rewritten onto.
	Gateway string
	// Timeout bounds one document request. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Client overrides the HTTP client. Its transport is used as is.
	Client *http.Client
	Logger *zap.Logger
}

// Fetcher retrieves metadata documents over HTTP.
type Fetcher struct {
	gateway string
	client  *http.Client
	logger  *zap.Logger
}

var _ Source = (*Fetcher)(nil)

// NewFetcher creates a Fetcher. The default client is traced with otelhttp.
func NewFetcher(opts Options) *Fetcher {
	if opts.Gateway == "" {
		opts.Gateway = DefaultGateway
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	opts.Logger = logging.OrNop(opts.Logger)

	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	return &Fetcher{gateway: opts.Gateway, client: client, logger: opts.Logger}
}

// Fetch resolves rawURI and retrieves the document.
//
// On failure the returned Document holds whatever fields could be read, so callers can
// show a partial record.
func (f *Fetcher) Fetch(ctx context.Context, rawURI string, tokenID uint64) (Document, error) {
	url, err := ResolveURI(rawURI, tokenID, f.gateway)
	if err != nil {
		return Document{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Document{}, fmt.Errorf("%w: %s returned status %d", ErrFetch, url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return Document{}, fmt.Errorf("%w: read body: %v", ErrFetch, err)
	}

	doc, err := Parse(body)
	if err != nil {
		f.logger.Debug("metadata document rejected",
			zap.Uint64("token_id", tokenID), zap.String("url", url), zap.Error(err))
	}
	return doc, err
}

// Parse decodes and validates a metadata document.
func Parse(body []byte) (Document, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	doc := Document{
		Name:        stringField(raw, "name"),
		Description: stringField(raw, "description"),
		Image:       stringField(raw, "image"),
	}

	s, err := loadSchema()
	if err != nil {
		return doc, fmt.Errorf("load metadata schema: %w", err)
	}
	result, err := s.Validate(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return doc, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if !result.Valid() {
		return doc, fmt.Errorf("%w: %v", ErrInvalidDocument, result.Errors())
	}
	return doc, nil
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
