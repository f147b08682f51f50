package tavily

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestClientSearch_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("auth header=%q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["include_answer"] != true {
			t.Errorf("include_answer=%v", body["include_answer"])
		}
		if domains, _ := body["include_domains"].([]any); len(domains) != 1 {
			t.Errorf("include_domains=%v", body["include_domains"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"answer":" Résumé. ","results":[{"title":"T","url":"https://e.com","content":"S","score":0.9}]}`))
	}))
	defer ts.Close()

	c := NewClient("key", ts.URL, ts.Client())
	c.IncludeDomains = []string{"has-sante.fr"}
	resp, err := c.Search(context.Background(), "endométriose")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if resp.Answer != "Résumé." || len(resp.Hits) != 1 || resp.Hits[0].Score != 0.9 {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestClientSearchSources(t *testing.T) {
	long := strings.Repeat("mot ", 200)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"answer":  "Les recommandations récentes...",
			"results": []map[string]any{{"title": "CNGOF", "url": "https://cngof.fr/reco", "content": long}},
		})
	}))
	defer ts.Close()

	res, err := NewClient("key", ts.URL, ts.Client()).SearchSources(context.Background(), "SOPK")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if res.Raw != "Les recommandations récentes..." {
		t.Fatalf("raw=%q", res.Raw)
	}
	if len(res.Grounding) != 1 || res.Grounding[0].URI != "https://cngof.fr/reco" {
		t.Fatalf("grounding=%+v", res.Grounding)
	}
	if n := len([]rune(res.Grounding[0].Snippet)); n != 281 {
		t.Fatalf("snippet runes=%d, want 281", n)
	}
}

func TestClientSearchSources_Empty(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer ts.Close()

	if _, err := NewClient("key", ts.URL, ts.Client()).SearchSources(context.Background(), "x"); err == nil {
		t.Fatal("expected error for empty results")
	}
}

func TestClientSearch_Non200(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
	}))
	defer ts.Close()

	c := NewClient("bad-key", ts.URL, ts.Client())
	_, err := c.Search(context.Background(), "golang")
	if err == nil || !strings.Contains(err.Error(), "status 401") {
		t.Fatalf("err=%v", err)
	}
}

func TestClientSearch_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer ts.Close()

	c := NewClient("key", ts.URL, ts.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := c.Search(ctx, "golang"); err == nil || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
}

func TestClientSearch_NotConfigured(t *testing.T) {
	if _, err := NewClient(" ", "", nil).Search(context.Background(), "x"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err=%v", err)
	}
}
