package httpext

import (
	"encoding/json"
	"errors"
	"net/http"
)

const NDJSONContentType = "application/x-ndjson"

var ErrStreamingUnsupported = errors.New("response writer does not support flushing")

// NDJSONWriter writes one JSON value per line and flushes after each one.
// Headers are only committed on the first Write, so a handler can still
// respond with a JSON error if it fails before producing anything.
type NDJSONWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func NewNDJSONWriter(w http.ResponseWriter) (*NDJSONWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	return &NDJSONWriter{w: w, flusher: flusher}, nil
}

// Started reports whether any line has been written.
func (n *NDJSONWriter) Started() bool {
	return n.started
}

func (n *NDJSONWriter) Write(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	if !n.started {
		h := n.w.Header()
		h.Set("Content-Type", NDJSONContentType)
		h.Set("Cache-Control", "no-cache")
		h.Set("X-Accel-Buffering", "no")
		n.w.WriteHeader(http.StatusOK)
		n.started = true
	}

	if _, err := n.w.Write(append(data, '\n')); err != nil {
		return err
	}
	n.flusher.Flush()
	return nil
}
