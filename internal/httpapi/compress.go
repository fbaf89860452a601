package httpapi

import (
	"compress/gzip"
	"net/http"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"

	"github.com/bijux/atlas-cache/internal/config"
)

// writeCompressed writes body as a JSON response, compressing with br or
// gzip when the client's accept-encoding allows it, compression is enabled,
// and the body clears the configured minimum size. Identity is used
// otherwise.
func writeCompressed(w http.ResponseWriter, r *http.Request, body []byte, cfg *config.ApiConfig) {
	w.Header().Set("Content-Type", "application/json")

	if !cfg.EnableResponseCompression || len(body) < cfg.CompressionMinBytes {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
		return
	}

	accept := r.Header.Get("Accept-Encoding")
	switch {
	case strings.Contains(accept, "br"):
		w.Header().Set("Content-Encoding", "br")
		w.Header().Set("Vary", "Accept-Encoding")
		w.WriteHeader(http.StatusOK)
		bw := brotli.NewWriterLevel(w, brotli.DefaultCompression)
		_, _ = bw.Write(body)
		_ = bw.Close()
	case strings.Contains(accept, "gzip"):
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Vary", "Accept-Encoding")
		w.WriteHeader(http.StatusOK)
		gw := gzip.NewWriter(w)
		_, _ = gw.Write(body)
		_ = gw.Close()
	default:
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}
}
