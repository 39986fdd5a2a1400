package retrieval

import "strings"

// Topic is a registered knowledge area with its backing vector collection.
type Topic struct {
	Name        string
	Collection  string
	Description string
}

// Topics returns the fixed registry of knowledge topics. Each becomes a
// search capability when its backing collection exists.
func Topics() []Topic {
	return []Topic{
		{
			Name:        "account_tools",
			Collection:  "AccountTools",
			Description: "Account-level questions: wallets, voting power, resource credits, posting and authority settings.",
		},
		{
			Name:        "campaign_management",
			Collection:  "CampaignManagement",
			Description: "Creating, funding and managing reward campaigns as a sponsor.",
		},
		{
			Name:        "earn_rewards",
			Collection:  "EarnRewards",
			Description: "Earning rewards as a user: reserving campaigns, writing qualifying reviews, receiving payouts.",
		},
		{
			Name:        "object_import",
			Collection:  "ObjectImport",
			Description: "Importing catalog objects and product data onto the platform.",
		},
		{
			Name:        "site_management",
			Collection:  "SiteManagement",
			Description: "Configuring and administering white-label sites: domains, affiliates, moderation, payments.",
		},
		{
			Name:        "platform_objects",
			Collection:  "PlatformObjects",
			Description: "Catalog objects, pages, lists, maps and how they are structured on the platform.",
		},
		{
			Name:        "platform_general",
			Collection:  "PlatformGeneral",
			Description: "General questions about how the platform works.",
		},
	}
}

var topicCollections = func() map[string]struct{} {
	set := make(map[string]struct{})
	for _, topic := range Topics() {
		set[topic.Collection] = struct{}{}
	}
	return set
}()

func isTopicCollection(name string) bool {
	_, ok := topicCollections[name]
	return ok
}

// CollectionFromHost derives a tenant's collection name from its host name:
// non-alphanumeric characters are stripped and the first letter is
// capitalized, e.g. "shop.example.com" → "Shopexamplecom".
func CollectionFromHost(host string) string {
	var b strings.Builder
	for _, r := range host {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return ""
	}
	return strings.ToUpper(cleaned[:1]) + cleaned[1:]
}
