// Package jsonapi provides lightweight JSON:API 1.1 envelope types and
// rendering helpers, for plain responses and for server-sent event frames.
package jsonapi

import (
	"encoding/json"
	"net/http"
)

// ContentType is the media type of every JSON:API response.
const ContentType = "application/vnd.api+json"

// ---- Document types -------------------------------------------------------

// Document is a JSON:API single-resource document.
type Document struct {
	Data  any    `json:"data"`
	Meta  Meta   `json:"meta,omitempty"`
	Links *Links `json:"links,omitempty"`
}

// ListDocument is a JSON:API collection document.
type ListDocument struct {
	Data   []any       `json:"data"`
	Meta   Meta        `json:"meta,omitempty"`
	Links  *Links      `json:"links,omitempty"`
	Paging *Pagination `json:"page,omitempty"`
}

// ResourceObject is the canonical JSON:API resource object.
type ResourceObject struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Attributes any    `json:"attributes,omitempty"`
	Links      *Links `json:"links,omitempty"`
	Meta       Meta   `json:"meta,omitempty"`
}

// Links holds JSON:API link objects.
type Links struct {
	Self string `json:"self,omitempty"`
}

// Meta is a free-form map of non-standard meta-information.
type Meta map[string]any

// Pagination describes the size of a collection. Banner collections are
// small and returned whole, so only the total is reported.
type Pagination struct {
	Total int `json:"total"`
}

// ---- Error types ----------------------------------------------------------

// ErrorDocument is a JSON:API error response document.
type ErrorDocument struct {
	Errors []ErrorObject `json:"errors"`
}

// ErrorObject represents a single JSON:API error.
type ErrorObject struct {
	Status string       `json:"status,omitempty"`
	Code   string       `json:"code,omitempty"`
	Title  string       `json:"title,omitempty"`
	Detail string       `json:"detail,omitempty"`
	Source *ErrorSource `json:"source,omitempty"`
}

// ErrorSource points at the request member that caused an error.
type ErrorSource struct {
	Pointer string `json:"pointer,omitempty"`
}

// ---- Render helpers -------------------------------------------------------

// Render writes a JSON:API document to w with the given HTTP status code.
func Render(w http.ResponseWriter, status int, doc any) {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(doc)
}

// Marshal encodes a single-resource document without a trailing newline,
// as required inside a text/event-stream data line.
func Marshal(data any) ([]byte, error) {
	return json.Marshal(Document{Data: data})
}

// NotFound writes a 404 error for the given detail.
func NotFound(w http.ResponseWriter, detail string) {
	RenderError(w, http.StatusNotFound, "not_found", "Not Found", detail)
}

// RenderOne writes a single-resource document.
func RenderOne(w http.ResponseWriter, status int, data any) {
	Render(w, status, Document{Data: data})
}

// RenderList writes a collection document. The page total is always the
// length of data.
func RenderList(w http.ResponseWriter, status int, data []any, links *Links) {
	if data == nil {
		data = []any{}
	}
	Render(w, status, ListDocument{Data: data, Links: links, Paging: &Pagination{Total: len(data)}})
}

// RenderError writes a single JSON:API error.
func RenderError(w http.ResponseWriter, status int, code, title, detail string) {
	RenderErrors(w, status, []ErrorObject{
		{
			Status: http.StatusText(status),
			Code:   code,
			Title:  title,
			Detail: detail,
		},
	})
}

// RenderErrors writes multiple JSON:API errors.
func RenderErrors(w http.ResponseWriter, status int, errs []ErrorObject) {
	Render(w, status, ErrorDocument{Errors: errs})
}
