package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/bijux/atlas-cache/internal/catalog"
	"github.com/bijux/atlas-cache/internal/datasetid"
	"github.com/bijux/atlas-cache/internal/httpclient"
	"github.com/bijux/atlas-cache/internal/manifest"
)

// HTTPBackend fetches the catalog, manifests, and artifact bytes from an
// object-store or CDN endpoint over HTTP, using conditional GET for the
// catalog and the shared retry policy for transient failures. Metadata
// fetches use Client; artifact bytes use DownloadClient, which carries no
// overall timeout since a large artifact may legitimately take minutes.
type HTTPBackend struct {
	BaseURL        string
	Client         *http.Client
	DownloadClient *http.Client
}

// NewHTTPBackend returns a backend rooted at baseURL using
// httpclient.Default for metadata and httpclient.ForDownload for artifacts.
func NewHTTPBackend(baseURL string) *HTTPBackend {
	return &HTTPBackend{
		BaseURL:        baseURL,
		Client:         httpclient.Default(),
		DownloadClient: httpclient.ForDownload(),
	}
}

func (b *HTTPBackend) client() *http.Client {
	if b.Client != nil {
		return b.Client
	}
	return httpclient.Default()
}

func (b *HTTPBackend) downloadClient() *http.Client {
	if b.DownloadClient != nil {
		return b.DownloadClient
	}
	return httpclient.ForDownload()
}

// FetchCatalog issues a conditional GET for "<base>/catalog.json". A 304
// response yields catalog.Result{NotModified: true}; a 200 response decodes
// the body and returns its ETag.
func (b *HTTPBackend) FetchCatalog(ctx context.Context, ifNoneMatch string) (catalog.Result, error) {
	url := b.BaseURL + "/catalog.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return catalog.Result{}, NewCacheError(fmt.Sprintf("build catalog request: %v", err))
	}
	if ifNoneMatch != "" {
		req.Header.Set("If-None-Match", ifNoneMatch)
	}

	resp, err := httpclient.DoWithRetry(ctx, b.client(), req, httpclient.StoreRetryPolicy)
	if err != nil {
		return catalog.Result{}, NewCacheError(fmt.Sprintf("fetch catalog: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return catalog.Result{NotModified: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return catalog.Result{}, NewCacheError(fmt.Sprintf("fetch catalog: unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return catalog.Result{}, NewCacheError(fmt.Sprintf("read catalog body: %v", err))
	}
	var cat catalog.Catalog
	if err := json.Unmarshal(body, &cat); err != nil {
		return catalog.Result{}, NewCacheError(fmt.Sprintf("decode catalog body: %v", err))
	}
	return catalog.Result{ETag: resp.Header.Get("ETag"), Catalog: cat}, nil
}

// FetchManifest fetches "<base>/<release>/<species>/<assembly>/manifest.json".
func (b *HTTPBackend) FetchManifest(ctx context.Context, id datasetid.ID) (manifest.Manifest, error) {
	url := fmt.Sprintf("%s/%s/%s/%s/manifest.json", b.BaseURL, id.Release, id.Species, id.Assembly)
	body, err := b.get(ctx, b.client(), url)
	if err != nil {
		return manifest.Manifest{}, err
	}
	var m manifest.Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return manifest.Manifest{}, NewCacheError(fmt.Sprintf("decode manifest for %s: %v", id, err))
	}
	return m, nil
}

// FetchArtifactBytes fetches "<base>/<release>/<species>/<assembly>/dataset.sqlite".
func (b *HTTPBackend) FetchArtifactBytes(ctx context.Context, id datasetid.ID) ([]byte, error) {
	url := fmt.Sprintf("%s/%s/%s/%s/dataset.sqlite", b.BaseURL, id.Release, id.Species, id.Assembly)
	return b.get(ctx, b.downloadClient(), url)
}

func (b *HTTPBackend) get(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, NewCacheError(fmt.Sprintf("build request for %s: %v", url, err))
	}
	resp, err := httpclient.DoWithRetry(ctx, client, req, httpclient.StoreRetryPolicy)
	if err != nil {
		return nil, NewCacheError(fmt.Sprintf("fetch %s: %v", url, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, NewCacheError(fmt.Sprintf("fetch %s: unexpected status %d", url, resp.StatusCode))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewCacheError(fmt.Sprintf("read body for %s: %v", url, err))
	}
	return body, nil
}
