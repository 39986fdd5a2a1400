package campaign

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// SQLRepository reads active campaigns from Postgres.
type SQLRepository struct {
	db *sql.DB
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

// FindActiveByKeyword matches active campaigns whose name contains the
// keyword, optionally restricted to the scope's authorities.
func (r *SQLRepository) FindActiveByKeyword(ctx context.Context, keyword string, scope Scope) ([]Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name,
			campaign_types,
			object_link,
			reward
		FROM concierge.active_campaigns
		WHERE name ILIKE '%' || $1 || '%'
			AND (cardinality($2::text[]) = 0 OR guide_name = ANY($2))
		ORDER BY reward DESC
		LIMIT 20
	`, keyword, pq.Array(scope.Authorities))
	if err != nil {
		return nil, fmt.Errorf("search campaigns for %q: %w", keyword, err)
	}
	defer rows.Close()

	var campaigns []Campaign
	for rows.Next() {
		var campaign Campaign
		if err := rows.Scan(&campaign.Name, pq.Array(&campaign.Types), &campaign.Link, &campaign.Reward); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		campaigns = append(campaigns, campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaigns: %w", err)
	}
	return campaigns, nil
}
