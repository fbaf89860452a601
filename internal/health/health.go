package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CheckStore probes the upstream artifact store's base URL. Returns nil if OK,
// an error with message if not. Run once at startup so a misconfigured store
// URL is visible in the logs before the first request trips a breaker.
func CheckStore(ctx context.Context, storeURL string) error {
	if storeURL == "" {
		return fmt.Errorf("no store URL configured")
	}
	// Some object-store backends don't support HEAD; use GET and close body immediately.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, storeURL, nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("store unreachable: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("store returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// CheckStorePaths hits the /catalog.json and /healthz paths at baseURL and returns
// the first error or nil. Used for an operator-facing deep health check,
// distinct from the liveness-only /healthz surface.
func CheckStorePaths(ctx context.Context, baseURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	for _, path := range []string{"/catalog.json", "/healthz"} {
		url := baseURL + path
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: HTTP %d", path, resp.StatusCode)
		}
	}
	return nil
}
