package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/curaition/bitcoin-newsletter/internal/core"
)

func TestAnalyzeSuccess(t *testing.T) {
	var got analyzeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/analyze" {
			t.Errorf("path = %q, want /v1/analyze", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(core.AnalysisResult{Success: true, Cost: 0.0011, SignalsFound: 4})
	}))
	defer srv.Close()

	client := New(srv.URL, 0.0013, 5*time.Second)
	tracker := core.NewCostTracker(0.30)

	item := core.ItemDetail{ID: 42, Title: "halving", Body: "text", SourceTag: "coindesk"}
	result, err := client.Analyze(context.Background(), item, tracker)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	if !result.Success || result.SignalsFound != 4 {
		t.Fatalf("result = %+v, want success with 4 signals", result)
	}
	if got.ArticleID != 42 || got.SourceTag != "coindesk" {
		t.Fatalf("request = %+v, want article 42 from coindesk", got)
	}
	if spent := tracker.Spent(); spent != 0.0011 {
		t.Fatalf("tracker.Spent() = %v, want the actual cost 0.0011", spent)
	}
}

func TestAnalyzeServiceError_ReleasesReservation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := New(srv.URL, 0.0013, 5*time.Second)
	tracker := core.NewCostTracker(0.30)

	_, err := client.Analyze(context.Background(), core.ItemDetail{ID: 1}, tracker)
	if err == nil {
		t.Fatal("Analyze() expected error on 503")
	}

	var perr *core.PipelineError
	if !errors.As(err, &perr) || !perr.Retryable {
		t.Fatalf("error = %v, want retryable pipeline error", err)
	}
	if tracker.Spent() != 0 {
		t.Fatalf("tracker.Spent() = %v after failed call, want 0", tracker.Spent())
	}
	if tracker.Remaining() != 0.30 {
		t.Fatalf("tracker.Remaining() = %v, reservation was not released", tracker.Remaining())
	}
}

func TestAnalyzeBudgetExhausted_NoCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	client := New(srv.URL, 0.0013, 5*time.Second)
	tracker := core.NewCostTracker(0.001)

	_, err := client.Analyze(context.Background(), core.ItemDetail{ID: 1}, tracker)
	if err == nil {
		t.Fatal("Analyze() expected budget error")
	}
	var perr *core.PipelineError
	if !errors.As(err, &perr) || perr.Code != "budget_exceeded" {
		t.Fatalf("error = %v, want budget_exceeded", err)
	}
	if called {
		t.Fatal("analysis service was called with no budget left")
	}
}
