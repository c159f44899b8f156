// Package problem writes RFC 7807 problem documents.
package problem

import (
	"encoding/json"
	"net/http"
	"strings"
)

const (
	MediaType   = "application/problem+json"
	typeBaseURL = "https://errors.escrow-settlement.dev/"
	traceHeader = "X-Trace-ID"
)

// FieldError names one rejected input field and a machine-readable reason.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Details is the problem document body. RequestID echoes the trace id so a
// client report can be matched to server logs.
type Details struct {
	Type      string       `json:"type"`
	Title     string       `json:"title"`
	Status    int          `json:"status"`
	Detail    string       `json:"detail,omitempty"`
	Instance  string       `json:"instance,omitempty"`
	RequestID string       `json:"request_id,omitempty"`
	Errors    []FieldError `json:"errors,omitempty"`
}

// Type expands a slug such as "escrow/invalid-state" into a type URI.
// Absolute URIs and "about:blank" pass through unchanged.
func Type(slug string) string {
	if slug == "" || slug == "about:blank" || strings.Contains(slug, "://") {
		return slug
	}
	return typeBaseURL + strings.TrimPrefix(slug, "/")
}

func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string) {
	WriteFields(w, r, status, problemType, title, detail, nil)
}

// WriteFields is Write with per-field validation errors attached. An empty
// title defaults to the status text.
func WriteFields(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string, fields []FieldError) {
	d := Details{
		Type:   problemType,
		Title:  title,
		Status: status,
		Detail: detail,
		Errors: fields,
	}
	if d.Type == "" {
		d.Type = "about:blank"
	}
	if d.Title == "" {
		d.Title = http.StatusText(status)
	}
	d.RequestID = w.Header().Get(traceHeader)
	if r != nil {
		d.Instance = r.URL.Path
		if d.RequestID == "" {
			d.RequestID = r.Header.Get(traceHeader)
		}
	}

	h := w.Header()
	h.Set("Content-Type", MediaType)
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(d)
}
