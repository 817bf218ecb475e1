package httputil

import (
	"io"
	"net/http"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
)

// DecompressPayload adds a reader of the right type in case you need to
// decompress the body. Bodies are capped to maxBytes when it's positive.
func DecompressPayload(next http.Handler, maxBytes int64) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		if maxBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}

		switch r.Header.Get("Content-Encoding") {
		case "br":
			r.Body = io.NopCloser(brotli.NewReader(r.Body))
		case "gzip":
			zr, err := gzip.NewReader(r.Body)
			if err != nil {
				WriteError(w, http.StatusBadRequest, "invalid gzip body")
				return
			}
			r.Body = zr
		}
		r.Header.Del("Content-Encoding")

		next.ServeHTTP(w, r)
	})
}
