// Package chain reads account state from the blockchain's public JSON-RPC
// nodes: voting power, resource credits and posting authorities.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"concierge/pkg/logging"
)

// Guest accounts live on the platform, not the chain. Their names carry an
// underscore separator, e.g. "site_alex".
func IsGuest(user string) bool {
	return strings.Contains(user, "_")
}

// Voting power regenerates linearly to a 10000 (100%) cap over five days.
const (
	fullVotingPower      = 10000
	regenerationSeconds  = 432000
	defaultRequestTimeout = 10 * time.Second
)

// Account is the subset of chain account state the assistant reads.
type Account struct {
	Name                string
	VotingPower         int
	LastVoteTime        time.Time
	PostingAccountAuths []string
	PostingMetadata     string
}

// Client calls condenser/rc API methods, failing over across nodes.
type Client struct {
	http   *http.Client
	nodes  []string
	logger logging.Logger
}

func NewClient(nodes []string, logger logging.Logger) *Client {
	return &Client{
		http:   &http.Client{Timeout: defaultRequestTimeout},
		nodes:  nodes,
		logger: logger,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int    `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// call posts a JSON-RPC request, trying each node in order until one answers.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	var lastErr error
	for _, node := range c.nodes {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, node, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create rpc request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			c.logger.WithError(err).WithField("node", node).Warn("Chain node unreachable, trying next")
			lastErr = err
			continue
		}

		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("node %s returned %s", node, resp.Status)
			c.logger.WithField("node", node).WithField("status", resp.Status).Warn("Chain node error, trying next")
			continue
		}

		var envelope struct {
			Result json.RawMessage `json:"result"`
			Error  *rpcError       `json:"error"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			lastErr = fmt.Errorf("decode rpc response: %w", err)
			continue
		}
		if envelope.Error != nil {
			return fmt.Errorf("rpc %s: %s (code %d)", method, envelope.Error.Message, envelope.Error.Code)
		}
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("decode rpc result: %w", err)
		}
		return nil
	}
	return fmt.Errorf("all chain nodes failed for %s: %w", method, lastErr)
}

// GetAccount fetches one account by name.
func (c *Client) GetAccount(ctx context.Context, name string) (*Account, error) {
	var accounts []struct {
		Name         string `json:"name"`
		VotingPower  int    `json:"voting_power"`
		LastVoteTime string `json:"last_vote_time"`
		Posting      struct {
			AccountAuths [][2]json.RawMessage `json:"account_auths"`
		} `json:"posting"`
		PostingJSONMetadata string `json:"posting_json_metadata"`
	}
	if err := c.call(ctx, "condenser_api.get_accounts", [][]string{{name}}, &accounts); err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("account %s not found", name)
	}

	raw := accounts[0]
	account := &Account{
		Name:            raw.Name,
		VotingPower:     raw.VotingPower,
		PostingMetadata: raw.PostingJSONMetadata,
	}
	// Chain timestamps have no zone suffix and are UTC.
	if ts, err := time.Parse("2006-01-02T15:04:05", raw.LastVoteTime); err == nil {
		account.LastVoteTime = ts.UTC()
	}
	for _, auth := range raw.Posting.AccountAuths {
		var delegate string
		if err := json.Unmarshal(auth[0], &delegate); err == nil {
			account.PostingAccountAuths = append(account.PostingAccountAuths, delegate)
		}
	}
	return account, nil
}

// RegeneratedVotingPower applies linear regeneration since the last vote,
// capped at 100%. The returned value is a percentage in [0, 100].
func RegeneratedVotingPower(votingPower int, lastVote, now time.Time) float64 {
	elapsed := now.Sub(lastVote).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	regenerated := float64(votingPower) + float64(fullVotingPower)*elapsed/regenerationSeconds
	if regenerated > fullVotingPower {
		regenerated = fullVotingPower
	}
	return regenerated / 100
}

// VotingPower returns the account's current voting power percentage.
func (c *Client) VotingPower(ctx context.Context, name string) (float64, error) {
	account, err := c.GetAccount(ctx, name)
	if err != nil {
		return 0, err
	}
	return RegeneratedVotingPower(account.VotingPower, account.LastVoteTime, time.Now().UTC()), nil
}

// ResourceCredits returns the account's resource credit percentage.
func (c *Client) ResourceCredits(ctx context.Context, name string) (float64, error) {
	var result struct {
		RCAccounts []struct {
			RCManabar struct {
				CurrentMana json.Number `json:"current_mana"`
			} `json:"rc_manabar"`
			MaxRC json.Number `json:"max_rc"`
		} `json:"rc_accounts"`
	}
	params := map[string]any{"accounts": []string{name}}
	if err := c.call(ctx, "rc_api.find_rc_accounts", params, &result); err != nil {
		return 0, err
	}
	if len(result.RCAccounts) == 0 {
		return 0, fmt.Errorf("rc account %s not found", name)
	}

	current, err := result.RCAccounts[0].RCManabar.CurrentMana.Float64()
	if err != nil {
		return 0, fmt.Errorf("parse current mana: %w", err)
	}
	max, err := result.RCAccounts[0].MaxRC.Float64()
	if err != nil {
		return 0, fmt.Errorf("parse max rc: %w", err)
	}
	if max == 0 {
		return 0, nil
	}
	return current / max * 100, nil
}

// ImportEnabled reports whether the account delegated posting authority to
// the import service account.
func (c *Client) ImportEnabled(ctx context.Context, name, importAuthority string) (bool, error) {
	account, err := c.GetAccount(ctx, name)
	if err != nil {
		return false, err
	}
	for _, delegate := range account.PostingAccountAuths {
		if delegate == importAuthority {
			return true, nil
		}
	}
	return false, nil
}
