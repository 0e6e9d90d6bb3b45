package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"domamart/pkg/platform/sentinel"
)

func TestWriteError(t *testing.T) {
	t.Run("internal error omits description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, errors.New("db failed"))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != CodeInternal {
			t.Fatalf("expected error code internal_error, got %q", body["error"])
		}
		if _, ok := body["error_description"]; ok {
			t.Fatalf("expected error_description to be omitted for internal errors")
		}
	})

	t.Run("bad request includes description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, BadRequest("eventId must be positive"))

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != CodeBadRequest {
			t.Fatalf("expected error code bad_request, got %q", body["error"])
		}
		if !strings.Contains(body["error_description"], "eventId must be positive") {
			t.Fatalf("expected error_description to be returned for bad request, got %q", body["error_description"])
		}
	})

	t.Run("sentinels map to statuses", func(t *testing.T) {
		cases := map[error]int{
			fmt.Errorf("domain T1: %w", sentinel.ErrNotFound): http.StatusNotFound,
			fmt.Errorf("wrap: %w", sentinel.ErrConflict):      http.StatusConflict,
			sentinel.ErrInvalidState:                          http.StatusConflict,
			fmt.Errorf("poll: %w", sentinel.ErrUnavailable):   http.StatusServiceUnavailable,
		}
		for err, want := range cases {
			w := httptest.NewRecorder()
			WriteError(w, err)
			if w.Code != want {
				t.Fatalf("%v: expected status %d, got %d", err, want, w.Code)
			}
		}
	})
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		EventID int64 `json:"eventId"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"eventId":42}`))
	if err := DecodeJSON(r, &v); err != nil || v.EventID != 42 {
		t.Fatalf("decode: %v %d", err, v.EventID)
	}

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"nope":1}`))
	if err := DecodeJSON(r, &v); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request for unknown field, got %v", err)
	}

	r = httptest.NewRequest(http.MethodPost, "/", nil)
	if err := DecodeJSON(r, &v); err != nil {
		t.Fatalf("empty body: %v", err)
	}
}
