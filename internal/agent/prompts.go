package agent

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"concierge/internal/capability"
	"concierge/internal/platform"
)

const basePrompt = `You are the support assistant for a community commerce site. Answer questions about the site, its catalog, reward campaigns and user accounts.

[Instructions]
- Ground every factual claim in tool results. If you have a matching tool, call it instead of guessing.
- Answer in the user's language.
- Keep answers short and concrete. Link to objects and campaigns when tools return links.
- If the tools return nothing useful, say so plainly; do not invent site content.`

const reinforcementInstruction = `Before answering, check the available tools: this question very likely needs a lookup. Call the relevant tool first and base your answer on its result.`

// SiteInfo is the prompt-context surface of the platform API.
type SiteInfo interface {
	SiteDescription(ctx context.Context, host string) (string, error)
	ActiveCampaigns(ctx context.Context, host string) ([]platform.Campaign, error)
	RecentPostTitles(ctx context.Context, host, user string, limit int) ([]string, error)
}

// buildSystemPrompt assembles the planning system prompt: base
// instructions, the tenant's description, and the per-user intention block.
func buildSystemPrompt(ctx context.Context, site SiteInfo, host, user string) string {
	var b strings.Builder
	b.WriteString(basePrompt)

	description, err := site.SiteDescription(ctx, host)
	if err == nil && description != "" {
		fmt.Fprintf(&b, "\n\n[About This Site]\n%s", capability.StripAngleBrackets(description))
	}

	b.WriteString("\n\n")
	b.WriteString(buildIntention(ctx, site, host, user))
	return b.String()
}

// buildIntention renders the user-status block. For a logged-in user it
// fetches their recent posts and the site's active campaigns concurrently;
// either lookup failing just omits its section.
func buildIntention(ctx context.Context, site SiteInfo, host, user string) string {
	if user == "" {
		return `[User Status]
The user is not logged in.

[Your Goals]
- Help them discover the site and its reward campaigns.
- Encourage signing up when they ask about earning rewards or account features.`
	}

	var (
		campaigns []platform.Campaign
		titles    []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		campaigns, _ = site.ActiveCampaigns(gctx, host)
		return nil
	})
	g.Go(func() error {
		titles, _ = site.RecentPostTitles(gctx, host, user, 3)
		return nil
	})
	_ = g.Wait()

	var b strings.Builder
	fmt.Fprintf(&b, "[User Status]\nLogged in as %s.\n", user)
	if len(titles) > 0 {
		fmt.Fprintf(&b, "Recent posts: %s.\n", strings.Join(titles, "; "))
	}
	if len(campaigns) > 0 {
		fmt.Fprintf(&b, "\n[Relevant Rewards]\n%s\n", platform.FormatCampaigns(campaigns))
	}
	b.WriteString(`
[Your Goals]
- Help the user earn rewards: point them at active campaigns that fit what they write about.
- Answer account questions (voting power, resource credits, imports) with the account tools.`)
	return b.String()
}
