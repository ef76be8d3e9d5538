// Package convert provides conversion request and result value types.
// This package has NO dependencies on I/O or external packages.
package convert

import "encoding/base64"

// Source statuses reported by the conversion backend.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Source kinds.
const (
	KindHTTP   = "http"   // document fetched from a URL
	KindBase64 = "base64" // document carried inline, base64 encoded
)

// MaxSources caps how many documents one batch may carry.
const MaxSources = 10

// Source identifies one document to convert, either by URL or as inline
// base64 data.
type Source struct {
	Kind     string `json:"kind"`
	URL      string `json:"url,omitempty"`
	Data     string `json:"data,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Options controls conversion output.
type Options struct {
	ToFormats []string `json:"to_formats,omitempty"` // "md", "json"
	OCR       bool     `json:"do_ocr,omitempty"`
}

// Request is a batch conversion request (value type).
type Request struct {
	Sources []Source `json:"sources"`
	Options Options  `json:"options"`
}

// Validate reports whether the request can be forwarded.
func (r Request) Validate() (reason string, ok bool) {
	if len(r.Sources) == 0 {
		return "at least one source is required", false
	}
	if len(r.Sources) > MaxSources {
		return "too many sources: at most 10 per request", false
	}
	for _, s := range r.Sources {
		switch s.Kind {
		case "", KindHTTP:
			if s.URL == "" {
				return "source url is required", false
			}
		case KindBase64:
			if s.Data == "" {
				return "source data is required for base64 sources", false
			}
			if _, err := base64.StdEncoding.DecodeString(s.Data); err != nil {
				return "source data is not valid base64", false
			}
		default:
			return "unsupported source kind: " + s.Kind, false
		}
	}
	return "", true
}

// DocumentResult is the outcome of converting a single source.
type DocumentResult struct {
	Source   string `json:"source"`
	Status   string `json:"status"`
	Pages    int64  `json:"pages"`
	Markdown string `json:"markdown,omitempty"`
	JSON     string `json:"json_content,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Succeeded reports whether the document converted.
func (d DocumentResult) Succeeded() bool {
	return d.Status == StatusSuccess
}

// Result is the backend's response for a whole batch.
type Result struct {
	Results          []DocumentResult
	ProcessingTimeMs int64
}

// Tally counts successful documents and sums their pages.
// Failed documents contribute nothing. This is a PURE function.
func Tally(results []DocumentResult) (successfulDocs int, pages int64) {
	for _, d := range results {
		if d.Succeeded() {
			successfulDocs++
			pages += d.Pages
		}
	}
	return successfulDocs, pages
}

// BatchStatus summarizes a batch as success, partial or error.
// This is a PURE function.
func BatchStatus(results []DocumentResult) string {
	var ok, failed int
	for _, d := range results {
		if d.Succeeded() {
			ok++
		} else {
			failed++
		}
	}
	switch {
	case failed == 0:
		return StatusSuccess
	case ok == 0:
		return StatusFailure
	default:
		return "partial"
	}
}
