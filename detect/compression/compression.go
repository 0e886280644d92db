package compression

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// Config controls response compression on the control-plane API. Stats and
// offender listings compress well, which matters when a dashboard polls
// them every second.
type Config struct {
	Enabled bool
	Level   int
}

type responseWriter struct {
	http.ResponseWriter
	writer io.Writer
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	return rw.writer.Write(b)
}

// Handler applies brotli or gzip according to Accept-Encoding.
type Handler struct {
	config Config
}

// NewHandler creates a compression handler; level 0 means the default.
func NewHandler(config Config) *Handler {
	if config.Level == 0 {
		config.Level = 6
	}
	return &Handler{config: config}
}

// Handle wraps next with negotiated response compression.
func (h *Handler) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.config.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		acceptEncoding := r.Header.Get("Accept-Encoding")
		var writer io.WriteCloser
		var encoding string

		if strings.Contains(acceptEncoding, "br") {
			writer = brotli.NewWriterLevel(w, h.config.Level)
			encoding = "br"
		} else if strings.Contains(acceptEncoding, "gzip") {
			writer, _ = gzip.NewWriterLevel(w, h.config.Level)
			encoding = "gzip"
		}

		if writer == nil {
			next.ServeHTTP(w, r)
			return
		}
		defer writer.Close()

		w.Header().Set("Content-Encoding", encoding)
		w.Header().Del("Content-Length")
		next.ServeHTTP(&responseWriter{ResponseWriter: w, writer: writer}, r)
	})
}
