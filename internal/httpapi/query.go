package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/bijux/atlas-cache/internal/datasetid"
	"github.com/bijux/atlas-cache/internal/genequery"
)

// badRequestError marks a compute-closure error as InvalidQueryParameter
// rather than an internal failure.
type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

func badRequestf(format string, args ...any) error {
	return &badRequestError{msg: fmt.Sprintf(format, args...)}
}

// notFoundError marks a compute-closure error as a single-entity 404.
type notFoundError struct{ msg string }

func (e *notFoundError) Error() string { return e.msg }

func notFoundf(format string, args ...any) error {
	return &notFoundError{msg: fmt.Sprintf(format, args...)}
}

// parseDatasetID validates the given release/species/assembly values as a
// datasetid.ID. An empty dimension is MissingDatasetDimension, not a
// generic bad request.
func parseDatasetID(release, species, assembly string) (datasetid.ID, error) {
	if release == "" || species == "" || assembly == "" {
		return datasetid.ID{}, &missingDimensionError{release: release, species: species, assembly: assembly}
	}
	id, err := datasetid.New(release, species, assembly)
	if err != nil {
		return datasetid.ID{}, badRequestf("invalid dataset dimensions: %v", err)
	}
	return id, nil
}

type missingDimensionError struct {
	release, species, assembly string
}

func (e *missingDimensionError) Error() string {
	return "missing required dataset dimension (release, species, assembly)"
}

// datasetIDFromQuery extracts and validates the dataset triple from a
// request's query parameters, the common case for /v1/genes and friends.
func datasetIDFromQuery(r *http.Request) (datasetid.ID, error) {
	q := r.URL.Query()
	return parseDatasetID(q.Get("release"), q.Get("species"), q.Get("assembly"))
}

// parseLimit parses the "limit" query parameter, defaulting to def and
// bounding at max. A negative or non-numeric limit is a bad request.
func parseLimit(r *http.Request, def, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequestf("invalid limit %q", raw)
	}
	if n == 0 {
		return def, nil
	}
	if n > max {
		n = max
	}
	return n, nil
}

// parseRegion parses an optional "region" query parameter into a
// genequery.RegionFilter pointer, nil when absent.
func parseRegion(r *http.Request) (*genequery.RegionFilter, error) {
	raw := r.URL.Query().Get("region")
	if raw == "" {
		return nil, nil
	}
	region, err := genequery.ParseRegion(raw)
	if err != nil {
		return nil, badRequestf("%v", err)
	}
	return &region, nil
}

// queryFingerprint normalizes r's query parameters into the admission
// controller's hot-cache and coalescing fingerprint.
func queryFingerprint(r *http.Request) string {
	q := r.URL.Query()
	params := make(map[string]string, len(q))
	for k, v := range q {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return genequery.NormalizeQuery(params)
}
