package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"concierge/pkg/logging"
)

func TestRegeneratedVotingPower(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name        string
		votingPower int
		lastVote    time.Time
		want        float64
	}{
		{"fully regenerated after five days", 0, now.Add(-5 * 24 * time.Hour), 100},
		{"caps at one hundred", 9000, now.Add(-24 * time.Hour), 100},
		{"half day regen", 5000, now.Add(-12 * time.Hour), 60},
		{"no elapsed time", 7500, now, 75},
		{"future last vote clamps", 8000, now.Add(time.Hour), 80},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := RegeneratedVotingPower(tc.votingPower, tc.lastVote, now)
			if math.Abs(got-tc.want) > 1e-6 {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsGuest(t *testing.T) {
	if !IsGuest("site_alex") {
		t.Fatal("underscore name should be guest")
	}
	if IsGuest("alex") {
		t.Fatal("plain name should not be guest")
	}
}

func TestGetAccountParsesAuths(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Method != "condenser_api.get_accounts" {
			t.Errorf("unexpected method %s", req.Method)
		}
		fmt.Fprint(w, `{"result":[{"name":"alex","voting_power":8000,"last_vote_time":"2026-08-01T00:00:00","posting":{"account_auths":[["importbot",1]]},"posting_json_metadata":"{}"}]}`)
	}))
	defer server.Close()

	client := NewClient([]string{server.URL}, logging.NewLogger())
	account, err := client.GetAccount(context.Background(), "alex")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.VotingPower != 8000 {
		t.Fatalf("voting power = %d", account.VotingPower)
	}
	if len(account.PostingAccountAuths) != 1 || account.PostingAccountAuths[0] != "importbot" {
		t.Fatalf("auths = %v", account.PostingAccountAuths)
	}

	enabled, err := client.ImportEnabled(context.Background(), "alex", "importbot")
	if err != nil {
		t.Fatalf("import enabled: %v", err)
	}
	if !enabled {
		t.Fatal("expected import to be enabled")
	}
}

func TestCallFailsOverAcrossNodes(t *testing.T) {
	t.Parallel()

	var badHits int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&badHits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"result":{"rc_accounts":[{"rc_manabar":{"current_mana":"50"},"max_rc":"200"}]}}`)
	}))
	defer good.Close()

	client := NewClient([]string{bad.URL, good.URL}, logging.NewLogger())
	rc, err := client.ResourceCredits(context.Background(), "alex")
	if err != nil {
		t.Fatalf("resource credits: %v", err)
	}
	if rc != 25 {
		t.Fatalf("rc = %v, want 25", rc)
	}
	if atomic.LoadInt32(&badHits) != 1 {
		t.Fatalf("expected failing node to be tried once, got %d", badHits)
	}
}
