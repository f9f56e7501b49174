// Package tustest provides an in-process tus server for tests.
package tustest

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Upload is an upload resource held by the Server.
type Upload struct {
	ID       string
	Length   int64
	Deferred bool
	Metadata string
	Data     []byte
}

// RecordedRequest ...
type RecordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// Hook may answer a request instead of the server. Returning false lets the
// server handle it.
type Hook func(w http.ResponseWriter, r *RecordedRequest) bool

// Server is a minimal tus server: creation, HEAD and PATCH with offset checks.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	uploads  map[string]*Upload
	requests []RecordedRequest
	hooks    []Hook
}

// NewServer starts a server. Uploads are created at <url>/files/.
func NewServer() *Server {
	s := &Server{uploads: map[string]*Upload{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Endpoint returns the creation url.
func (s *Server) Endpoint() string {
	return s.URL + "/files/"
}

// Hook registers h, hooks run in registration order.
func (s *Server) Hook(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

// FailNext answers the next n requests matching method with status.
func (s *Server) FailNext(method string, n int, status int) {
	remaining := n
	s.Hook(func(w http.ResponseWriter, r *RecordedRequest) bool {
		if r.Method != method || remaining == 0 {
			return false
		}
		remaining--
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, "injected failure")
		return true
	})
}

// AddUpload registers an upload holding data, and returns its url.
func (s *Server) AddUpload(length int64, data []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.uploads[id] = &Upload{ID: id, Length: length, Deferred: length < 0, Data: append([]byte(nil), data...)}
	return s.Endpoint() + id
}

// Upload returns a copy of the upload at url.
func (s *Server) Upload(url string) (Upload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	upload, ok := s.uploads[idFromPath(url)]
	if !ok {
		return Upload{}, false
	}
	cp := *upload
	cp.Data = append([]byte(nil), upload.Data...)
	return cp, true
}

// Requests returns the requests received so far.
func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// Methods returns the method of each received request.
func (s *Server) Methods() []string {
	var methods []string
	for _, r := range s.Requests() {
		methods = append(methods, r.Method)
	}
	return methods
}

func (s *Server) handle(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	method := req.Method
	if override := req.Header.Get("X-HTTP-Method-Override"); override != "" {
		method = override
	}

	r := RecordedRequest{Method: method, Path: req.URL.Path, Header: req.Header.Clone(), Body: body}

	s.mu.Lock()
	s.requests = append(s.requests, r)
	hooks := append([]Hook(nil), s.hooks...)
	s.mu.Unlock()

	for _, h := range hooks {
		if h(w, &r) {
			return
		}
	}

	if req.Header.Get("Tus-Resumable") != "1.0.0" {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}

	w.Header().Set("Tus-Resumable", "1.0.0")

	switch method {
	case http.MethodPost:
		s.create(w, &r)
	case http.MethodHead:
		s.head(w, &r)
	case http.MethodPatch:
		s.patch(w, &r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) create(w http.ResponseWriter, r *RecordedRequest) {
	upload := &Upload{ID: uuid.NewString(), Metadata: r.Header.Get("Upload-Metadata")}

	if r.Header.Get("Upload-Defer-Length") == "1" {
		upload.Deferred = true
		upload.Length = -1
	} else {
		length, err := strconv.ParseInt(r.Header.Get("Upload-Length"), 10, 64)
		if err != nil || length < 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		upload.Length = length
	}

	s.mu.Lock()
	s.uploads[upload.ID] = upload
	s.mu.Unlock()

	w.Header().Set("Location", "/files/"+upload.ID)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) head(w http.ResponseWriter, r *RecordedRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	upload, ok := s.uploads[idFromPath(r.Path)]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Upload-Offset", strconv.Itoa(len(upload.Data)))
	if upload.Deferred {
		w.Header().Set("Upload-Defer-Length", "1")
	} else {
		w.Header().Set("Upload-Length", strconv.FormatInt(upload.Length, 10))
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) patch(w http.ResponseWriter, r *RecordedRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	upload, ok := s.uploads[idFromPath(r.Path)]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Header.Get("Content-Type") != "application/offset+octet-stream" {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}

	offset, err := strconv.ParseInt(r.Header.Get("Upload-Offset"), 10, 64)
	if err != nil || offset != int64(len(upload.Data)) {
		w.WriteHeader(http.StatusConflict)
		return
	}

	if raw := r.Header.Get("Upload-Length"); raw != "" {
		length, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || !upload.Deferred {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		upload.Length = length
		upload.Deferred = false
	}

	if !upload.Deferred && offset+int64(len(r.Body)) > upload.Length {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}

	upload.Data = append(upload.Data, r.Body...)
	w.Header().Set("Upload-Offset", strconv.Itoa(len(upload.Data)))
	w.WriteHeader(http.StatusNoContent)
}

func idFromPath(path string) string {
	return path[strings.LastIndex(path, "/")+1:]
}
