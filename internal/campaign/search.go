// Package campaign searches active reward campaigns by keyword, scoped to
// the tenant's configured campaign authorities.
package campaign

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"concierge/pkg/logging"
)

// Campaign is one active reward campaign match.
type Campaign struct {
	Name   string
	Types  []string
	Link   string
	Reward float64
}

// Scope restricts a search to campaigns run by specific authorities.
// An empty scope matches everything.
type Scope struct {
	Authorities []string
}

// Repository looks up active campaigns matching a single keyword.
type Repository interface {
	FindActiveByKeyword(ctx context.Context, keyword string, scope Scope) ([]Campaign, error)
}

// ScopeResolver resolves a tenant's authority scope.
type ScopeResolver interface {
	AuthorityScope(ctx context.Context, host string) (Scope, error)
}

// Search fans a keyword list out over the repository concurrently. A
// failing keyword is logged and skipped; it never fails the whole search.
type Search struct {
	repo   Repository
	scopes ScopeResolver
	logger logging.Logger
}

func NewSearch(repo Repository, scopes ScopeResolver, logger logging.Logger) *Search {
	return &Search{repo: repo, scopes: scopes, logger: logger}
}

// ByKeywords searches every non-empty keyword concurrently and aggregates
// matches into a textual summary for the agent.
func (s *Search) ByKeywords(ctx context.Context, host string, keywords []string) (string, error) {
	cleaned := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		if keyword = strings.TrimSpace(keyword); keyword != "" {
			cleaned = append(cleaned, keyword)
		}
	}
	if len(cleaned) == 0 {
		return "No keywords were provided.", nil
	}

	scope, err := s.scopes.AuthorityScope(ctx, host)
	if err != nil {
		// An unresolved scope falls back to an unrestricted search.
		s.logger.WithError(err).WithField("host", host).Warn("Failed to resolve campaign scope")
		scope = Scope{}
	}

	type keywordResult struct {
		keyword   string
		campaigns []Campaign
	}

	results := make([]keywordResult, len(cleaned))
	var wg sync.WaitGroup
	for i, keyword := range cleaned {
		wg.Add(1)
		go func(i int, keyword string) {
			defer wg.Done()
			campaigns, err := s.repo.FindActiveByKeyword(ctx, keyword, scope)
			if err != nil {
				s.logger.WithError(err).WithField("keyword", keyword).Warn("Keyword campaign search failed")
				return
			}
			results[i] = keywordResult{keyword: keyword, campaigns: campaigns}
		}(i, keyword)
	}
	wg.Wait()

	var b strings.Builder
	matched := 0
	for _, result := range results {
		if len(result.campaigns) == 0 {
			continue
		}
		matched++
		fmt.Fprintf(&b, "Campaigns matching %q:\n", result.keyword)
		for _, campaign := range result.campaigns {
			fmt.Fprintf(&b, "- %s", campaign.Name)
			if len(campaign.Types) > 0 {
				fmt.Fprintf(&b, " (%s)", strings.Join(campaign.Types, ", "))
			}
			if campaign.Reward > 0 {
				fmt.Fprintf(&b, " — reward %.2f", campaign.Reward)
			}
			if campaign.Link != "" {
				fmt.Fprintf(&b, " — %s", campaign.Link)
			}
			b.WriteString("\n")
		}
	}
	if matched == 0 {
		return "No active campaigns matched the given keywords.", nil
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
