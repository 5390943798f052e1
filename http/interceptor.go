package http

import (
	"bufio"
	"errors"
	"net"
	"net/http"
)

// finalizeFunc commits a pending payment side-effect once the downstream
// handler's outcome is known. It runs exactly once, at the first write, and
// only for success statuses (< 400). Returning false means finalization
// failed and the finalizer has already written a replacement response; the
// handler's body is then discarded.
type finalizeFunc func(statusCode int, header http.Header) bool

// responseInterceptor wraps the ResponseWriter to defer payment side-effects
// until the moment the downstream handler commits its response. The body and
// status pass through byte-for-byte on success; only headers are added.
type responseInterceptor struct {
	w http.ResponseWriter

	// finalize performs settlement, token issuance, or acknowledgement.
	finalize finalizeFunc

	// onError observes downstream error statuses that skip finalization.
	onError func(statusCode int)

	committed bool
	hijacked  bool
}

func (i *responseInterceptor) Header() http.Header {
	return i.w.Header()
}

func (i *responseInterceptor) Write(b []byte) (int, error) {
	// A Write without WriteHeader implies 200 OK, which is the commit point.
	if !i.committed {
		i.WriteHeader(http.StatusOK)
	}

	// When finalization failed the replacement response is already on the
	// wire; silently discard the handler's payload to avoid mixed output.
	if i.hijacked {
		return len(b), nil
	}

	return i.w.Write(b)
}

func (i *responseInterceptor) WriteHeader(statusCode int) {
	if i.committed {
		return
	}
	i.committed = true

	// Downstream errors pass through untouched; the pending side-effect is
	// discarded without running.
	if statusCode >= 400 {
		if i.onError != nil {
			i.onError(statusCode)
		}
		i.w.WriteHeader(statusCode)
		return
	}

	// The handler wants to succeed: run the pending side-effect now.
	if i.finalize != nil && !i.finalize(statusCode, i.w.Header()) {
		i.hijacked = true
		return
	}

	i.w.WriteHeader(statusCode)
}

// Flush implements http.Flusher to support streaming responses.
func (i *responseInterceptor) Flush() {
	if flusher, ok := i.w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack implements http.Hijacker to support connection hijacking.
func (i *responseInterceptor) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := i.w.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, errors.New("hijacking not supported")
}

// Push implements http.Pusher to support HTTP/2 server push.
func (i *responseInterceptor) Push(target string, opts *http.PushOptions) error {
	if pusher, ok := i.w.(http.Pusher); ok {
		return pusher.Push(target, opts)
	}
	return http.ErrNotSupported
}
