package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

const maxJSONBodyBytes = 64 << 10

var (
	errBodyRequired = errors.New("request body is required")
	errNotJSON      = errors.New("request must be JSON")
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// WriteError is an exported helper for returning JSON API errors.
func WriteError(w http.ResponseWriter, status int, err error) {
	writeError(w, status, err)
}

// decodeJSON reads a single JSON object from a request declared as
// application/json. Unknown fields are ignored.
func decodeJSON(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errBodyRequired
	}
	defer r.Body.Close()

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.EqualFold(mediaType, "application/json") {
		return errNotJSON
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return errBodyRequired
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return errNotJSON
	}
	return nil
}
