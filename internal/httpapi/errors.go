// Package httpapi wires the admission controller to the HTTP surface: every
// route is a thin handler that runs the layered admission gates before
// delegating to the dataset cache manager and the gene/transcript query
// layer.
package httpapi

import (
	"encoding/json"
	"net/http"
)

// ApiErrorCode is a stable, machine-readable error identifier returned in
// every non-2xx response body.
type ApiErrorCode string

const (
	CodeInvalidQueryParameter   ApiErrorCode = "InvalidQueryParameter"
	CodeMissingDatasetDimension ApiErrorCode = "MissingDatasetDimension"
	CodeNotReady                ApiErrorCode = "NotReady"
	CodeQueryRejectedByPolicy   ApiErrorCode = "QueryRejectedByPolicy"
	CodeInternal                ApiErrorCode = "Internal"

	// CodeNotFound covers single-entity 404s (unknown dataset dimension,
	// unknown gene/transcript id) distinct from NotReady, which is reserved
	// for a dataset present in the catalog but not currently servable.
	CodeNotFound ApiErrorCode = "NotFound"
)

// apiError is the wire shape of an error response body:
// { "error": { "code", "message", "details" } }.
type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Code    ApiErrorCode   `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeError writes a structured error body at status, echoing the request
// id header that the admission gates already set.
func writeError(w http.ResponseWriter, status int, code ApiErrorCode, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Error: apiErrorBody{Code: code, Message: message, Details: details}})
}
