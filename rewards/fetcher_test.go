package rewards

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetcherCachesDocuments(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/common.json":
			_, _ = w.Write([]byte(`{name: 'Loyalty Card NFT', attributes: [{"trait_type": "Reward Tier", "value": "Common"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	fetcher := NewFetcher(4)
	ctx := context.Background()
	doc, err := fetcher.Fetch(ctx, srv.URL+"/common.json")
	require.NoError(t, err)
	require.Equal(t, "Loyalty Card NFT", doc.Name)
	_, err = fetcher.Fetch(ctx, srv.URL+"/common.json")
	require.NoError(t, err)
	require.Equal(t, int32(1), hits.Load())

	_, err = fetcher.Fetch(ctx, srv.URL+"/missing.json")
	require.ErrorIs(t, err, ErrFetchFailed)
}
