package tsatest

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

const maxRequestSize = 64 * 1024

// Handler returns the HTTP interface of the TSA:
//
//	POST /       RFC 3161 over HTTP (application/timestamp-query)
//	POST /ocsp   OCSP responder for the TSA certificate
//	GET  /health liveness probe
func (t *TSA) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer)

	r.Post("/", t.handleTimestamp)
	r.Post("/ocsp", t.handleOCSP)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "ok")
	})
	return r
}

func (t *TSA) handleTimestamp(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/timestamp-query") {
		http.Error(w, "Invalid content type", http.StatusUnsupportedMediaType)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestSize))
	if err != nil {
		http.Error(w, "Failed to read request", http.StatusRequestEntityTooLarge)
		return
	}

	resp, err := t.Respond(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// RFC 3161 returns 200 even for rejections
	w.Header().Set("Content-Type", "application/timestamp-reply")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp)
}

func (t *TSA) handleOCSP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/ocsp-request") {
		http.Error(w, "Invalid content type", http.StatusUnsupportedMediaType)
		return
	}
	if _, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestSize)); err != nil {
		http.Error(w, "Failed to read request", http.StatusRequestEntityTooLarge)
		return
	}

	resp, err := t.OCSPResponse()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/ocsp-response")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp)
}

// recoverer turns handler panics into 500 responses.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
