// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package devcloud is an in-process cloud storage backend for development
// and adapter tests. It speaks the WebDAV-like protocol the webdav adapter
// expects: GET/PUT/DELETE on file paths with ETag revisions, If-Match
// conditional writes answered with 412, Depth-1 PROPFIND listing, plus a
// JSON change feed and a throttle switch that simulates rate limiting.
package devcloud

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MKhiriev/go-vault-sync/internal/logger"
)

func init() {
	chi.RegisterMethod("PROPFIND")
}

type file struct {
	data     []byte
	etag     string
	modified time.Time
	serial   int64
}

// Handler is the fake cloud. Safe for concurrent use.
type Handler struct {
	token  string
	logger *logger.Logger

	mu        sync.Mutex
	files     map[string]*file
	serial    int64
	throttled time.Duration // zero means serving normally
}

// NewHandler creates an empty backend. Requests must carry the given bearer
// token; an empty token disables the auth check.
func NewHandler(token string, log *logger.Logger) *Handler {
	log.Info().Msg("devcloud handler created")
	return &Handler{
		token:  token,
		logger: log,
		files:  make(map[string]*file),
	}
}

// Init builds the router.
func (h *Handler) Init() *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(h.checkAuth)
	router.Use(h.checkThrottle)

	router.Get("/changes", h.changes)

	router.Get("/*", h.download)
	router.Put("/*", h.upload)
	router.Delete("/*", h.remove)
	router.Method("PROPFIND", "/*", http.HandlerFunc(h.propfind))

	return router
}

// Throttle makes every subsequent request answer 429 with the given
// Retry-After until Resume is called.
func (h *Handler) Throttle(retryAfter time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.throttled = retryAfter
}

// Resume clears the throttle switch.
func (h *Handler) Resume() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.throttled = 0
}

func (h *Handler) checkAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" && r.Header.Get("Authorization") != "Bearer "+h.token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) checkThrottle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		throttled := h.throttled
		h.mu.Unlock()

		if throttled > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(throttled.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	f, ok := h.files[cleanPath(r.URL.Path)]
	var data []byte
	var etag string
	var modified time.Time
	if ok {
		data = append([]byte(nil), f.data...)
		etag, modified = f.etag, f.modified
	}
	h.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("ETag", `"`+etag+`"`)
	w.Header().Set("Last-Modified", modified.UTC().Format(http.TimeFormat))
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	path := cleanPath(r.URL.Path)
	ifMatch := trimQuotes(r.Header.Get("If-Match"))

	h.mu.Lock()
	f, exists := h.files[path]
	if ifMatch != "" && (!exists || f.etag != ifMatch) {
		h.mu.Unlock()
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}

	if !exists {
		f = &file{}
		h.files[path] = f
	}
	h.serial++
	f.data = body
	f.serial = h.serial
	f.etag = "dev-" + strconv.FormatInt(h.serial, 10)
	f.modified = time.Now().UTC()
	etag, modified := f.etag, f.modified
	h.mu.Unlock()

	w.Header().Set("ETag", `"`+etag+`"`)
	w.Header().Set("Last-Modified", modified.Format(http.TimeFormat))
	if exists {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusCreated)
	}
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	path := cleanPath(r.URL.Path)

	h.mu.Lock()
	_, ok := h.files[path]
	delete(h.files, path)
	h.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// propfind answers Depth-0 probes with an empty multistatus and Depth-1
// listing requests with one response element per stored file.
func (h *Handler) propfind(w http.ResponseWriter, r *http.Request) {
	type resourceType struct {
		Collection *struct{} `xml:"collection,omitempty"`
	}
	type prop struct {
		DisplayName   string       `xml:"displayname"`
		ContentLength int64        `xml:"getcontentlength"`
		ETag          string       `xml:"getetag"`
		LastModified  string       `xml:"getlastmodified"`
		ResourceType  resourceType `xml:"resourcetype"`
	}
	type propstat struct {
		Prop   prop   `xml:"prop"`
		Status string `xml:"status"`
	}
	type response struct {
		Href     string   `xml:"href"`
		Propstat propstat `xml:"propstat"`
	}
	type multistatus struct {
		XMLName   xml.Name   `xml:"multistatus"`
		Responses []response `xml:"response"`
	}

	ms := multistatus{}
	base := cleanPath(r.URL.Path)

	// The collection itself.
	ms.Responses = append(ms.Responses, response{
		Href: "/" + base,
		Propstat: propstat{
			Prop:   prop{DisplayName: base, ResourceType: resourceType{Collection: &struct{}{}}},
			Status: "HTTP/1.1 200 OK",
		},
	})

	if r.Header.Get("Depth") != "0" {
		h.mu.Lock()
		for path, f := range h.files {
			if base != "" && !strings.HasPrefix(path, base+"/") && !strings.HasPrefix(path, base) {
				continue
			}
			ms.Responses = append(ms.Responses, response{
				Href: "/" + path,
				Propstat: propstat{
					Prop: prop{
						DisplayName:   lastSegment(path),
						ContentLength: int64(len(f.data)),
						ETag:          `"` + f.etag + `"`,
						LastModified:  f.modified.UTC().Format(http.TimeFormat),
					},
					Status: "HTTP/1.1 200 OK",
				},
			})
		}
		h.mu.Unlock()
	}

	out, err := xml.Marshal(ms)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusMultiStatus)
	_, _ = fmt.Fprint(w, xml.Header)
	_, _ = w.Write(out)
}

// changes is a simple JSON delta feed: files with a serial greater than the
// cursor, plus the cursor to resume from.
func (h *Handler) changes(w http.ResponseWriter, r *http.Request) {
	var since int64
	if c := r.URL.Query().Get("cursor"); c != "" {
		parsed, err := strconv.ParseInt(c, 10, 64)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		since = parsed
	}

	type change struct {
		Path     string    `json:"path"`
		ETag     string    `json:"etag"`
		Size     int64     `json:"size"`
		Modified time.Time `json:"modified"`
	}
	payload := struct {
		Changes []change `json:"changes"`
		Cursor  string   `json:"cursor"`
	}{Changes: []change{}}

	h.mu.Lock()
	for path, f := range h.files {
		if f.serial > since {
			payload.Changes = append(payload.Changes, change{
				Path:     path,
				ETag:     f.etag,
				Size:     int64(len(f.data)),
				Modified: f.modified,
			})
		}
	}
	payload.Cursor = strconv.FormatInt(h.serial, 10)
	h.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func cleanPath(p string) string {
	return strings.Trim(p, "/")
}

func trimQuotes(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "W/")
	return strings.Trim(s, `"`)
}

func lastSegment(path string) string {
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}
