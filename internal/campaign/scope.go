package campaign

import (
	"context"

	"concierge/internal/platform"
)

// TenantConfig is the slice of the platform API the scope resolver needs.
type TenantConfig interface {
	SiteConfiguration(ctx context.Context, host string) (platform.Configuration, error)
}

// PlatformScopeResolver derives the campaign authority scope from the
// tenant's platform configuration.
type PlatformScopeResolver struct {
	config TenantConfig
}

func NewPlatformScopeResolver(config TenantConfig) *PlatformScopeResolver {
	return &PlatformScopeResolver{config: config}
}

func (r *PlatformScopeResolver) AuthorityScope(ctx context.Context, host string) (Scope, error) {
	cfg, err := r.config.SiteConfiguration(ctx, host)
	if err != nil {
		return Scope{}, err
	}
	return Scope{Authorities: cfg.ShopAuthorities}, nil
}
