package rewards

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultDocumentCacheSize = 256
	maxDocumentBytes         = 1 << 20
)

// DocumentSource resolves a metadata URI to a decoded document.
type DocumentSource interface {
	Fetch(ctx context.Context, uri string) (*Document, error)
}

// Fetcher downloads metadata documents over HTTP and keeps the decoded
// results in a bounded LRU keyed by URI.
type Fetcher struct {
	client *http.Client
	cache  *lru.Cache[string, *Document]
}

// FetcherOption customises a Fetcher.
type FetcherOption func(*Fetcher)

func WithFetchClient(client *http.Client) FetcherOption {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// NewFetcher builds a fetcher caching up to size documents. A non-positive
// size uses the default.
func NewFetcher(size int, opts ...FetcherOption) *Fetcher {
	if size <= 0 {
		size = defaultDocumentCacheSize
	}
	// lru.New only fails for non-positive sizes.
	cache, _ := lru.New[string, *Document](size)
	f := &Fetcher{
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		cache: cache,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns the document at uri, serving repeated lookups from cache.
func (f *Fetcher) Fetch(ctx context.Context, uri string) (*Document, error) {
	uri = strings.TrimSpace(uri)
	if doc, ok := f.cache.Get(uri); ok {
		return doc, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetchFailed, uri, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetchFailed, uri, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: status %d", ErrFetchFailed, uri, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetchFailed, uri, err)
	}
	doc, err := DecodeDocument(body, uri)
	if err != nil {
		return nil, err
	}
	f.cache.Add(uri, doc)
	return doc, nil
}
