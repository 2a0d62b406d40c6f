package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// ============================================================
// HTTPComparator
// ============================================================

func TestCompareDecodesVerdict(t *testing.T) {
	var gotBody compareRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(Result{IsMatch: false, Distance: 0.81, Threshold: 0.6})
	}))
	defer srv.Close()

	c := NewHTTPComparator(srv.URL, 0.7, time.Second)
	result, err := c.Compare(context.Background(), []float64{0.1, 0.2, 0.3}, "sess-42")
	if err != nil {
		t.Fatalf("Compare() error: %v", err)
	}

	if result.IsMatch {
		t.Error("IsMatch = true, want false")
	}
	if result.Distance != 0.81 {
		t.Errorf("distance = %g, want 0.81", result.Distance)
	}
	if gotBody.SessionID != "sess-42" {
		t.Errorf("sessionId = %q, want sess-42", gotBody.SessionID)
	}
	if len(gotBody.Embedding) != 3 {
		t.Errorf("embedding length = %d, want 3", len(gotBody.Embedding))
	}
	if gotBody.Threshold != 0.7 {
		t.Errorf("threshold = %g, want 0.7", gotBody.Threshold)
	}
}

func TestCompareDefaultsThreshold(t *testing.T) {
	var gotBody compareRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(Result{IsMatch: true, Distance: 0.2, Threshold: DefaultDistanceThreshold})
	}))
	defer srv.Close()

	c := NewHTTPComparator(srv.URL, 0, time.Second)
	if _, err := c.Compare(context.Background(), []float64{0.1}, "sess-1"); err != nil {
		t.Fatalf("Compare() error: %v", err)
	}
	if gotBody.Threshold != DefaultDistanceThreshold {
		t.Errorf("threshold = %g, want default %g", gotBody.Threshold, DefaultDistanceThreshold)
	}
}

func TestCompareMapsNotFoundToErrNoReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no reference", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPComparator(srv.URL, 0.6, time.Second)
	if _, err := c.Compare(context.Background(), []float64{0.1}, "sess-1"); !errors.Is(err, ErrNoReference) {
		t.Errorf("Compare() = %v, want ErrNoReference", err)
	}
}

func TestCompareRejectsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPComparator(srv.URL, 0.6, time.Second)
	_, err := c.Compare(context.Background(), []float64{0.1}, "sess-1")
	if err == nil {
		t.Fatal("Compare() succeeded against a 500 response")
	}
	if errors.Is(err, ErrNoReference) {
		t.Error("server error mapped to ErrNoReference")
	}
}

func TestCompareHonorsContextCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := NewHTTPComparator(srv.URL, 0.6, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := c.Compare(ctx, []float64{0.1}, "sess-1"); err == nil {
		t.Fatal("Compare() ignored context deadline")
	}
}

func TestCompareRejectsMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := NewHTTPComparator(srv.URL, 0.6, time.Second)
	if _, err := c.Compare(context.Background(), []float64{0.1}, "sess-1"); err == nil {
		t.Fatal("Compare() accepted a malformed response")
	}
}
