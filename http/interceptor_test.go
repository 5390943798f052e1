package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInterceptorFinalizesOnSuccess(t *testing.T) {
	recorder := httptest.NewRecorder()
	finalized := 0

	interceptor := &responseInterceptor{
		w: recorder,
		finalize: func(statusCode int, header http.Header) bool {
			finalized++
			if statusCode != http.StatusCreated {
				t.Errorf("finalize statusCode = %d, want 201", statusCode)
			}
			header.Set("X-Finalized", "yes")
			return true
		},
	}

	interceptor.WriteHeader(http.StatusCreated)
	interceptor.WriteHeader(http.StatusTeapot) // ignored, already committed
	if _, err := interceptor.Write([]byte("body")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if finalized != 1 {
		t.Errorf("finalize ran %d times, want 1", finalized)
	}
	if recorder.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", recorder.Code)
	}
	if recorder.Header().Get("X-Finalized") != "yes" {
		t.Error("finalize header not applied before status commit")
	}
	if recorder.Body.String() != "body" {
		t.Errorf("body = %q", recorder.Body.String())
	}
}

func TestInterceptorImplicitOK(t *testing.T) {
	recorder := httptest.NewRecorder()
	finalized := false

	interceptor := &responseInterceptor{
		w: recorder,
		finalize: func(statusCode int, header http.Header) bool {
			finalized = true
			if statusCode != http.StatusOK {
				t.Errorf("statusCode = %d, want implicit 200", statusCode)
			}
			return true
		},
	}

	if _, err := interceptor.Write([]byte("data")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !finalized {
		t.Error("finalize did not run on implicit WriteHeader")
	}
}

func TestInterceptorSkipsFinalizeOnError(t *testing.T) {
	recorder := httptest.NewRecorder()
	var sawStatus int

	interceptor := &responseInterceptor{
		w: recorder,
		finalize: func(statusCode int, header http.Header) bool {
			t.Error("finalize must not run for error statuses")
			return true
		},
		onError: func(statusCode int) { sawStatus = statusCode },
	}

	interceptor.WriteHeader(http.StatusNotFound)
	if _, err := interceptor.Write([]byte("missing")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if sawStatus != http.StatusNotFound {
		t.Errorf("onError saw %d, want 404", sawStatus)
	}
	if recorder.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", recorder.Code)
	}
	if recorder.Body.String() != "missing" {
		t.Errorf("error body = %q, want passthrough", recorder.Body.String())
	}
}

func TestInterceptorHijacksOnFinalizeFailure(t *testing.T) {
	recorder := httptest.NewRecorder()

	interceptor := &responseInterceptor{
		w: recorder,
		finalize: func(statusCode int, header http.Header) bool {
			// A failing finalizer writes its own replacement response.
			recorder.WriteHeader(http.StatusPaymentRequired)
			recorder.Body.WriteString("payment required")
			return false
		},
	}

	interceptor.WriteHeader(http.StatusOK)
	n, err := interceptor.Write([]byte("handler body must vanish"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len("handler body must vanish") {
		t.Errorf("hijacked write reported %d bytes", n)
	}

	if recorder.Code != http.StatusPaymentRequired {
		t.Errorf("status = %d, want 402", recorder.Code)
	}
	if recorder.Body.String() != "payment required" {
		t.Errorf("body = %q, handler output leaked", recorder.Body.String())
	}
}
