package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareCountsByRoute(t *testing.T) {
	Init()
	Init()

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/quizzes/{quizID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(RequestCounter.WithLabelValues("GET", "/api/quizzes/{quizID}", "418"))
	for range 3 {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/quizzes/abc", nil))
	}
	after := testutil.ToFloat64(RequestCounter.WithLabelValues("GET", "/api/quizzes/{quizID}", "418"))
	if after-before != 3 {
		t.Errorf("counter moved by %v, want 3", after-before)
	}
}

func TestOutcome(t *testing.T) {
	if Outcome(nil) != "ok" || Outcome(errors.New("x")) != "error" {
		t.Error("unexpected outcome labels")
	}
}
