package out_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	chatadapter "medq/internal/modules/chat/adapter/out"
	chatout "medq/internal/modules/chat/port/out"
	"medq/internal/platform/config"
	apperrors "medq/internal/platform/errors"
)

func backendFor(standard, deep string) config.BackendConfig {
	return config.BackendConfig{
		BaseURL:           standard,
		DeepThinkURL:      deep,
		Endpoint:          "/api/query",
		DeepThinkEndpoint: "/api/v1/testq",
		Timeout:           5 * time.Second,
	}
}

func TestHTTPFetcherRoutesByMode(t *testing.T) {
	t.Parallel()
	var gotPath, gotQuestion string
	standard := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuestion = r.URL.Path, r.URL.Query().Get("question")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"answer":"Upper endoscopy.","followup_questions":["How often?"]}`))
	}))
	defer standard.Close()
	deep := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuestion = r.URL.Path, r.URL.Query().Get("question")
		_, _ = w.Write([]byte(`{"answer":"Thought hard.","followup_questions":[{"question":"Why?","answer":"-"},42,""]}`))
	}))
	defer deep.Close()

	fetcher := chatadapter.NewHTTPAnswerFetcher(backendFor(standard.URL+"/", deep.URL), standard.Client())
	question := "What is the best modality to screen for Barrett's esophagus?"

	result, err := fetcher.Fetch(context.Background(), chatout.FetchRequest{Question: question})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotPath != "/api/query" || gotQuestion != question {
		t.Fatalf("unexpected request %s ?question=%q", gotPath, gotQuestion)
	}
	if result.Answer != "Upper endoscopy." || !reflect.DeepEqual(result.Followups, []string{"How often?"}) {
		t.Fatalf("unexpected result %+v", result)
	}

	result, err = fetcher.Fetch(context.Background(), chatout.FetchRequest{Question: "a&b=c", DeepThink: true})
	if err != nil {
		t.Fatalf("deep fetch: %v", err)
	}
	if gotPath != "/api/v1/testq" || gotQuestion != "a&b=c" {
		t.Fatalf("unexpected deep request %s ?question=%q", gotPath, gotQuestion)
	}
	if !reflect.DeepEqual(result.Followups, []string{"Why?"}) {
		t.Fatalf("unexpected deep followups %v", result.Followups)
	}
}

func TestHTTPFetcherReportsServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := chatadapter.NewHTTPAnswerFetcher(backendFor(srv.URL, ""), nil).
		Fetch(context.Background(), chatout.FetchRequest{Question: "Q"})
	if !errors.Is(err, apperrors.ErrFetch) || !strings.Contains(err.Error(), "server error: 503") {
		t.Fatalf("expected server error, got %v", err)
	}
}

func TestHTTPFetcherRejectsMalformedBody(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>gateway</html>`))
	}))
	defer srv.Close()

	_, err := chatadapter.NewHTTPAnswerFetcher(backendFor(srv.URL, ""), nil).
		Fetch(context.Background(), chatout.FetchRequest{Question: "Q"})
	if !errors.Is(err, apperrors.ErrFetch) {
		t.Fatalf("expected fetch error, got %v", err)
	}
}

func TestHTTPFetcherRequiresBaseURL(t *testing.T) {
	t.Parallel()
	fetcher := chatadapter.NewHTTPAnswerFetcher(backendFor("https://example.invalid", " "), nil)
	_, err := fetcher.Fetch(context.Background(), chatout.FetchRequest{Question: "Q", DeepThink: true})
	if !errors.Is(err, apperrors.ErrBackendNotConfigured) {
		t.Fatalf("expected backend not configured, got %v", err)
	}
}

func TestHTTPFetcherHonoursCancellation(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := chatadapter.NewHTTPAnswerFetcher(backendFor(srv.URL, ""), srv.Client()).
			Fetch(ctx, chatout.FetchRequest{Question: "slow"})
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("fetch did not stop after cancellation")
	}
}

func TestHTTPFetcherTimeoutIsNotCancellation(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	backend := backendFor(srv.URL, "")
	backend.Timeout = 30 * time.Millisecond
	_, err := chatadapter.NewHTTPAnswerFetcher(backend, srv.Client()).
		Fetch(context.Background(), chatout.FetchRequest{Question: "slow"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
