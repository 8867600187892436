package server

import (
	"bytes"
	"context"
	"hash/fnv"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/cors"
)

// RequestIDHeader carries the per-request id on read routes.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// requestIDFrom returns the id assigned by the request-id middleware.
func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Routes returns the HTTP handler with all application routes.
func (s *Server) Routes() http.Handler {
	api := cors.New(cors.Options{
		AllowedOrigins: s.origins.corsOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{RequestIDHeader, "ETag"},
	})
	wrap := func(h http.HandlerFunc) http.Handler {
		return api.Handler(s.requestID(etag(h)))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.HealthHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.HandleFunc("/test", s.TestPageHandler)
	mux.HandleFunc("GET /healthz", s.HealthzHandler)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.Handle("/rooms", wrap(s.ListRoomsHandler))
	mux.Handle("/rooms/{roomId}", wrap(s.RoomHistoryHandler))
	return mux
}

// requestID reuses an incoming X-Request-ID or assigns a new UUID.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		s.log.Debug("http.request", "method", r.Method, "path", r.URL.Path, "request_id", id)

		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// etag buffers a successful response, tags it with a hash of the body and
// answers 304 when the client already holds that version.
func etag(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bw := &bufferedWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(bw, r)

		if bw.status != http.StatusOK {
			w.WriteHeader(bw.status)
			_, _ = w.Write(bw.buf.Bytes())
			return
		}

		h := fnv.New64a()
		_, _ = h.Write(bw.buf.Bytes())
		tag := `"` + strconv.FormatUint(h.Sum64(), 36) + `"`
		w.Header().Set("ETag", tag)

		if matchesETag(r.Header.Get("If-None-Match"), tag) {
			w.Header().Del("Content-Type")
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(bw.buf.Bytes())
	})
}

func matchesETag(header, tag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == tag {
			return true
		}
	}
	return false
}

type bufferedWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (b *bufferedWriter) WriteHeader(status int) {
	b.status = status
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	return b.buf.Write(p)
}
