package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"concierge/pkg/logging"
)

func TestSiteDescriptionSendsHostHeader(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Access-Host") != "shop.example.com" {
			t.Errorf("missing Access-Host header")
		}
		if r.URL.Path != "/api/sites/description" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"description":"A neighborhood coffee marketplace"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, logging.NewLogger())
	desc, err := client.SiteDescription(context.Background(), "shop.example.com")
	if err != nil {
		t.Fatalf("description: %v", err)
	}
	if desc != "A neighborhood coffee marketplace" {
		t.Fatalf("unexpected description %q", desc)
	}
}

func TestGeneralSearchMergesUsers(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["string"] != "espresso" {
			t.Errorf("query not forwarded: %v", body["string"])
		}
		fmt.Fprint(w, `{"wobjects":[{"name":"Espresso Bar","object_type":"restaurant"}],"users":[{"account":"barista"}]}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, logging.NewLogger())
	hits, err := client.GeneralSearch(context.Background(), "shop.example.com", "espresso", 5, 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[1].Kind != "user" || hits[1].Name != "barista" {
		t.Fatalf("user hit not merged: %+v", hits[1])
	}
}

func TestUserProfileDecodesPostingMetadata(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"posting_json_metadata":"{\"profile\":{\"name\":\"Alex\",\"about\":\"coffee person\"}}"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, logging.NewLogger())
	profile, err := client.UserProfile(context.Background(), "alex")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile["name"] != "Alex" {
		t.Fatalf("unexpected profile %+v", profile)
	}
}

func TestErrorStatusIncludesBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream exploded")
	}))
	defer server.Close()

	client := NewClient(server.URL, logging.NewLogger())
	_, err := client.ActiveCampaigns(context.Background(), "shop.example.com")
	if err == nil {
		t.Fatal("expected error for 502")
	}
	if !strings.Contains(err.Error(), "upstream exploded") {
		t.Fatalf("error does not include body: %v", err)
	}
}

func TestClientRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"description":"back online"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, logging.NewLogger())
	desc, err := client.SiteDescription(context.Background(), "shop.example.com")
	if err != nil {
		t.Fatalf("transient 503 should be retried: %v", err)
	}
	if desc != "back online" || calls != 2 {
		t.Fatalf("desc=%q calls=%d", desc, calls)
	}
}

func TestFormatCampaigns(t *testing.T) {
	if got := FormatCampaigns(nil); !strings.Contains(got, "no active campaigns") {
		t.Fatalf("unexpected empty listing %q", got)
	}

	got := FormatCampaigns([]Campaign{
		{Name: "Review a latte", Types: []string{"reviews"}, Reward: 1.5, Link: "https://x/obj"},
	})
	if !strings.Contains(got, "Review a latte") || !strings.Contains(got, "reward 1.50") {
		t.Fatalf("unexpected listing %q", got)
	}
}
