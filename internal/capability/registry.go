package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"concierge/internal/platform"
	"concierge/internal/retrieval"
	"concierge/pkg/logging"
)

// Knowledge is the retrieval surface the registry exposes as search
// capabilities.
type Knowledge interface {
	Search(ctx context.Context, fallbackCollection, query string, k int) []retrieval.Result
	SearchAllTenantCollections(ctx context.Context, query string, limit int) ([]retrieval.Result, error)
}

// Collections answers whether a vector collection is populated.
type Collections interface {
	CollectionExists(ctx context.Context, collection string) (bool, error)
}

// Platform is the tenant content API surface consumed by capabilities.
type Platform interface {
	GeneralSearch(ctx context.Context, host, query string, objectLimit, userLimit int) ([]platform.SearchHit, error)
	MapObjectSearch(ctx context.Context, host string, box platform.Box, limit int) ([]platform.SearchHit, error)
	OwnerContact(ctx context.Context, host string) (string, error)
	ActiveCampaigns(ctx context.Context, host string) ([]platform.Campaign, error)
	RecentPostTitles(ctx context.Context, host, user string, limit int) ([]string, error)
	UserProfile(ctx context.Context, user string) (map[string]any, error)
	GuestMana(ctx context.Context, user string) (float64, error)
	GuestImportActive(ctx context.Context, user string) (bool, error)
}

// Accounts reads chain account facts.
type Accounts interface {
	VotingPower(ctx context.Context, name string) (float64, error)
	ResourceCredits(ctx context.Context, name string) (float64, error)
	ImportEnabled(ctx context.Context, name, importAuthority string) (bool, error)
}

// ImageTools generates, edits and interprets images.
type ImageTools interface {
	Create(ctx context.Context, prompt, size string, sourceURLs []string) (string, error)
	Describe(ctx context.Context, imageURL, question string) (string, error)
}

// CampaignSearch is the optional keyword campaign search dependency.
type CampaignSearch interface {
	ByKeywords(ctx context.Context, host string, keywords []string) (string, error)
}

// IsGuest reports whether a user name denotes a platform guest account.
type IsGuest func(user string) bool

// Builder constructs per-request capability sets.
type Builder struct {
	Knowledge       Knowledge
	Collections     Collections
	Platform        Platform
	Accounts        Accounts
	Images          ImageTools
	Campaigns       CampaignSearch // nil disables keyword campaign search
	IsGuest         IsGuest
	ImportAuthority string
	SearchLimit     int
	Logger          logging.Logger
}

// Request scopes a capability set to one turn.
type Request struct {
	Host        string
	User        string
	Images      []string
	PageContext string
}

const notLoggedIn = "The user is not logged in. Ask them to log in to use account features."

// Build assembles the capability set for a request.
func (b *Builder) Build(ctx context.Context, req Request) []Descriptor {
	host := StripAngleBrackets(req.Host)
	images := req.Images
	if len(images) > MaxAttachedImages {
		images = images[:MaxAttachedImages]
	}

	limit := b.SearchLimit
	if limit <= 0 {
		limit = 10
	}

	var descriptors []Descriptor
	descriptors = append(descriptors, b.topicSearchCapabilities(ctx, limit)...)
	if tenant := b.tenantSearchCapability(ctx, host, limit); tenant != nil {
		descriptors = append(descriptors, *tenant)
	}
	descriptors = append(descriptors,
		b.platformSearchCapability(host, limit),
		b.allSitesSearchCapability(limit),
		b.mapSearchCapability(host, limit),
		b.ownerContactCapability(host),
		b.campaignListingCapability(host),
	)
	if b.Campaigns != nil {
		descriptors = append(descriptors, b.keywordCampaignCapability(host))
	}
	descriptors = append(descriptors, b.userCapabilities(host, req.User)...)
	descriptors = append(descriptors, b.imageCapability(images))
	if len(images) > 0 {
		descriptors = append(descriptors, b.describeImageCapability(images))
	}
	if req.PageContext != "" {
		descriptors = append(descriptors, b.pageContextCapability(req.PageContext))
	}
	return descriptors
}

type queryArgs struct {
	Query string `json:"query"`
}

func (b *Builder) topicSearchCapabilities(ctx context.Context, limit int) []Descriptor {
	var descriptors []Descriptor
	for _, topic := range retrieval.Topics() {
		exists, err := b.Collections.CollectionExists(ctx, topic.Collection)
		if err != nil {
			b.Logger.WithError(err).WithField("collection", topic.Collection).Warn("Skipping topic capability")
			continue
		}
		if !exists {
			continue
		}

		collection := topic.Collection
		descriptors = append(descriptors, Descriptor{
			Name:        "search_" + topic.Name,
			Description: topic.Description,
			Parameters: params(map[string]any{
				"query": map[string]any{"type": "string", "description": "The question to search knowledge for."},
			}, []string{"query"}),
			Invoke: func(ctx context.Context, args json.RawMessage) (string, error) {
				var parsed queryArgs
				if err := json.Unmarshal(args, &parsed); err != nil {
					return "", fmt.Errorf("parse arguments: %w", err)
				}
				return formatResults(b.Knowledge.Search(ctx, collection, parsed.Query, limit)), nil
			},
		})
	}
	return descriptors
}

func (b *Builder) tenantSearchCapability(ctx context.Context, host string, limit int) *Descriptor {
	collection := retrieval.CollectionFromHost(host)
	if collection == "" {
		return nil
	}
	exists, err := b.Collections.CollectionExists(ctx, collection)
	if err != nil {
		b.Logger.WithError(err).WithField("collection", collection).Warn("Skipping tenant capability")
		return nil
	}
	if !exists {
		return nil
	}

	return &Descriptor{
		Name:        "search_site_knowledge",
		Description: fmt.Sprintf("Search this site's own catalog and content (%s). Prefer this for questions about products, places or pages on the site.", host),
		Parameters: params(map[string]any{
			"query": map[string]any{"type": "string", "description": "What to look for on this site."},
		}, []string{"query"}),
		Invoke: func(ctx context.Context, args json.RawMessage) (string, error) {
			var parsed queryArgs
			if err := json.Unmarshal(args, &parsed); err != nil {
				return "", fmt.Errorf("parse arguments: %w", err)
			}
			return formatResults(b.Knowledge.Search(ctx, collection, parsed.Query, limit)), nil
		},
	}
}

func (b *Builder) platformSearchCapability(host string, limit int) Descriptor {
	return Descriptor{
		Name:        "search_platform",
		Description: "Search catalog objects and user accounts across the platform by name.",
		Parameters: params(map[string]any{
			"query": map[string]any{"type": "string", "description": "Name or phrase to search for."},
		}, []string{"query"}),
		Invoke: func(ctx context.Context, args json.RawMessage) (string, error) {
			var parsed queryArgs
			if err := json.Unmarshal(args, &parsed); err != nil {
				return "", fmt.Errorf("parse arguments: %w", err)
			}
			hits, err := b.Platform.GeneralSearch(ctx, host, parsed.Query, limit, 5)
			if err != nil {
				return "", err
			}
			return formatHits(hits), nil
		},
	}
}

func (b *Builder) allSitesSearchCapability(limit int) Descriptor {
	return Descriptor{
		Name:        "search_all_sites",
		Description: "Search the indexed content of every site on the platform at once. Use for platform-wide lookups when the current site's own search found nothing.",
		Parameters: params(map[string]any{
			"query": map[string]any{"type": "string", "description": "What to look for across all sites."},
		}, []string{"query"}),
		Invoke: func(ctx context.Context, args json.RawMessage) (string, error) {
			var parsed queryArgs
			if err := json.Unmarshal(args, &parsed); err != nil {
				return "", fmt.Errorf("parse arguments: %w", err)
			}
			results, err := b.Knowledge.SearchAllTenantCollections(ctx, parsed.Query, limit)
			if err != nil {
				return "", err
			}
			return formatResults(results), nil
		},
	}
}

func (b *Builder) mapSearchCapability(host string, limit int) Descriptor {
	return Descriptor{
		Name:        "search_objects_map",
		Description: "Find catalog objects inside a geographic bounding box.",
		Parameters: params(map[string]any{
			"topLongitude":    map[string]any{"type": "number"},
			"topLatitude":     map[string]any{"type": "number"},
			"bottomLongitude": map[string]any{"type": "number"},
			"bottomLatitude":  map[string]any{"type": "number"},
		}, []string{"topLongitude", "topLatitude", "bottomLongitude", "bottomLatitude"}),
		Invoke: func(ctx context.Context, args json.RawMessage) (string, error) {
			var parsed struct {
				TopLongitude    float64 `json:"topLongitude"`
				TopLatitude     float64 `json:"topLatitude"`
				BottomLongitude float64 `json:"bottomLongitude"`
				BottomLatitude  float64 `json:"bottomLatitude"`
			}
			if err := json.Unmarshal(args, &parsed); err != nil {
				return "", fmt.Errorf("parse arguments: %w", err)
			}
			box := platform.Box{
				TopPoint:    [2]float64{parsed.TopLongitude, parsed.TopLatitude},
				BottomPoint: [2]float64{parsed.BottomLongitude, parsed.BottomLatitude},
			}
			hits, err := b.Platform.MapObjectSearch(ctx, host, box, limit)
			if err != nil {
				return "", err
			}
			return formatHits(hits), nil
		},
	}
}

func (b *Builder) ownerContactCapability(host string) Descriptor {
	return Descriptor{
		Name:        "get_owner_contact",
		Description: "Get contact information for the owner of this site.",
		Parameters:  params(map[string]any{}, nil),
		Invoke: func(ctx context.Context, _ json.RawMessage) (string, error) {
			return b.Platform.OwnerContact(ctx, host)
		},
	}
}

func (b *Builder) campaignListingCapability(host string) Descriptor {
	return Descriptor{
		Name:        "list_active_campaigns",
		Description: "List the reward campaigns currently active on this site.",
		Parameters:  params(map[string]any{}, nil),
		Invoke: func(ctx context.Context, _ json.RawMessage) (string, error) {
			campaigns, err := b.Platform.ActiveCampaigns(ctx, host)
			if err != nil {
				return "", err
			}
			return platform.FormatCampaigns(campaigns), nil
		},
	}
}

func (b *Builder) keywordCampaignCapability(host string) Descriptor {
	return Descriptor{
		Name:        "search_campaigns_by_keywords",
		Description: "Search active reward campaigns by a list of keywords, e.g. dish or product names.",
		Parameters: params(map[string]any{
			"keywords": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		}, []string{"keywords"}),
		Invoke: func(ctx context.Context, args json.RawMessage) (string, error) {
			var parsed struct {
				Keywords []string `json:"keywords"`
			}
			if err := json.Unmarshal(args, &parsed); err != nil {
				return "", fmt.Errorf("parse arguments: %w", err)
			}
			return b.Campaigns.ByKeywords(ctx, host, parsed.Keywords)
		},
	}
}

func (b *Builder) userCapabilities(host, user string) []Descriptor {
	guard := func(run func(ctx context.Context) (string, error)) func(context.Context, json.RawMessage) (string, error) {
		return func(ctx context.Context, _ json.RawMessage) (string, error) {
			if user == "" {
				return notLoggedIn, nil
			}
			return run(ctx)
		}
	}

	return []Descriptor{
		{
			Name:        "get_voting_power",
			Description: "Get the logged-in user's current voting power percentage.",
			Parameters:  params(map[string]any{}, nil),
			Invoke: guard(func(ctx context.Context) (string, error) {
				if b.IsGuest != nil && b.IsGuest(user) {
					mana, err := b.Platform.GuestMana(ctx, user)
					if err != nil {
						return "", err
					}
					return fmt.Sprintf("Voting power (guest mana): %.2f%%", mana), nil
				}
				power, err := b.Accounts.VotingPower(ctx, user)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Voting power: %.2f%%", power), nil
			}),
		},
		{
			Name:        "get_resource_credits",
			Description: "Get the logged-in user's resource credit percentage.",
			Parameters:  params(map[string]any{}, nil),
			Invoke: guard(func(ctx context.Context) (string, error) {
				if b.IsGuest != nil && b.IsGuest(user) {
					mana, err := b.Platform.GuestMana(ctx, user)
					if err != nil {
						return "", err
					}
					return fmt.Sprintf("Resource credits (guest mana): %.2f%%", mana), nil
				}
				credits, err := b.Accounts.ResourceCredits(ctx, user)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Resource credits: %.2f%%", credits), nil
			}),
		},
		{
			Name:        "get_user_profile",
			Description: "Get the logged-in user's profile: display name, about, location, website.",
			Parameters:  params(map[string]any{}, nil),
			Invoke: guard(func(ctx context.Context) (string, error) {
				profile, err := b.Platform.UserProfile(ctx, user)
				if err != nil {
					return "", err
				}
				if len(profile) == 0 {
					return "The user has not filled in a profile.", nil
				}
				data, err := json.Marshal(profile)
				if err != nil {
					return "", fmt.Errorf("encode profile: %w", err)
				}
				return string(data), nil
			}),
		},
		{
			Name:        "get_recent_post_titles",
			Description: "Get titles of the logged-in user's most recent posts.",
			Parameters:  params(map[string]any{}, nil),
			Invoke: guard(func(ctx context.Context) (string, error) {
				titles, err := b.Platform.RecentPostTitles(ctx, host, user, 5)
				if err != nil {
					return "", err
				}
				if len(titles) == 0 {
					return "The user has no recent posts.", nil
				}
				return "- " + strings.Join(titles, "\n- "), nil
			}),
		},
		{
			Name:        "check_import_status",
			Description: "Check whether the logged-in user has authorized the object import service.",
			Parameters:  params(map[string]any{}, nil),
			Invoke: guard(func(ctx context.Context) (string, error) {
				var enabled bool
				var err error
				if b.IsGuest != nil && b.IsGuest(user) {
					enabled, err = b.Platform.GuestImportActive(ctx, user)
				} else {
					enabled, err = b.Accounts.ImportEnabled(ctx, user, b.ImportAuthority)
				}
				if err != nil {
					return "", err
				}
				if enabled {
					return "Object import is authorized for this user.", nil
				}
				return "Object import is not authorized. The user needs to grant posting authority to the import service.", nil
			}),
		},
	}
}

func (b *Builder) imageCapability(images []string) Descriptor {
	description := "Generate an image from a text description and return a link to it."
	if len(images) > 0 {
		description = "Edit the user's attached image(s) according to a text instruction and return a link to the result."
	}
	return Descriptor{
		Name:        "generate_image",
		Description: description,
		Parameters: params(map[string]any{
			"query": map[string]any{"type": "string", "description": "What the image should show, or how to change the attached image."},
			"size": map[string]any{
				"type": "string",
				"enum": AllowedImageSizes(),
			},
		}, []string{"query"}),
		Invoke: func(ctx context.Context, args json.RawMessage) (string, error) {
			var parsed struct {
				Query string `json:"query"`
				Size  string `json:"size"`
			}
			if err := json.Unmarshal(args, &parsed); err != nil {
				return "", fmt.Errorf("parse arguments: %w", err)
			}
			return b.Images.Create(ctx, parsed.Query, parsed.Size, images)
		},
	}
}

func (b *Builder) describeImageCapability(images []string) Descriptor {
	return Descriptor{
		Name:        "describe_image",
		Description: "Answer a question about the user's attached image.",
		Parameters: params(map[string]any{
			"question": map[string]any{"type": "string", "description": "What to determine from the image."},
		}, nil),
		Invoke: func(ctx context.Context, args json.RawMessage) (string, error) {
			var parsed struct {
				Question string `json:"question"`
			}
			if err := json.Unmarshal(args, &parsed); err != nil {
				return "", fmt.Errorf("parse arguments: %w", err)
			}
			return b.Images.Describe(ctx, images[0], parsed.Question)
		},
	}
}

func (b *Builder) pageContextCapability(pageContext string) Descriptor {
	sanitized := StripAngleBrackets(pageContext)
	return Descriptor{
		Name:        "get_page_context",
		Description: "Get the content of the page the user is currently looking at.",
		Parameters:  params(map[string]any{}, nil),
		Invoke: func(_ context.Context, _ json.RawMessage) (string, error) {
			return sanitized, nil
		},
	}
}

func formatResults(results []retrieval.Result) string {
	if len(results) == 0 {
		return "No relevant knowledge found."
	}
	var b strings.Builder
	for i, result := range results {
		fmt.Fprintf(&b, "[%d. %s | Relevance: %.2f]\n%s\n", i+1, result.Collection, result.Score, result.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatHits(hits []platform.SearchHit) string {
	if len(hits) == 0 {
		return "No matches found."
	}
	var b strings.Builder
	for _, hit := range hits {
		fmt.Fprintf(&b, "- %s", hit.Name)
		if hit.Kind != "" {
			fmt.Fprintf(&b, " (%s)", hit.Kind)
		}
		if hit.Description != "" {
			fmt.Fprintf(&b, ": %s", hit.Description)
		}
		if hit.Link != "" {
			fmt.Fprintf(&b, " — %s", hit.Link)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
