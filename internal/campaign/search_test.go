package campaign

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"concierge/pkg/logging"
)

type fakeRepo struct {
	byKeyword map[string][]Campaign
	errs      map[string]error
	calls     int32
	gotScope  Scope
}

func (f *fakeRepo) FindActiveByKeyword(_ context.Context, keyword string, scope Scope) ([]Campaign, error) {
	atomic.AddInt32(&f.calls, 1)
	f.gotScope = scope
	if err := f.errs[keyword]; err != nil {
		return nil, err
	}
	return f.byKeyword[keyword], nil
}

type fakeScopes struct {
	scope Scope
	err   error
}

func (f *fakeScopes) AuthorityScope(context.Context, string) (Scope, error) {
	return f.scope, f.err
}

func TestByKeywordsAggregates(t *testing.T) {
	repo := &fakeRepo{
		byKeyword: map[string][]Campaign{
			"pizza": {{Name: "Review our pizza", Types: []string{"reviews"}, Reward: 2}},
			"sushi": {{Name: "Sushi photo contest"}},
		},
	}
	search := NewSearch(repo, &fakeScopes{}, logging.NewLogger())

	out, err := search.ByKeywords(context.Background(), "food.example.com", []string{"pizza", "sushi"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !strings.Contains(out, "Review our pizza") || !strings.Contains(out, "Sushi photo contest") {
		t.Fatalf("aggregated output missing matches: %q", out)
	}
}

func TestByKeywordsIsolatesFailures(t *testing.T) {
	repo := &fakeRepo{
		byKeyword: map[string][]Campaign{
			"pizza": {{Name: "Review our pizza"}},
		},
		errs: map[string]error{
			"sushi": errors.New("db timeout"),
		},
	}
	search := NewSearch(repo, &fakeScopes{}, logging.NewLogger())

	out, err := search.ByKeywords(context.Background(), "food.example.com", []string{"pizza", "sushi"})
	if err != nil {
		t.Fatalf("a failing keyword must not fail the search: %v", err)
	}
	if !strings.Contains(out, "Review our pizza") {
		t.Fatalf("surviving keyword's matches missing: %q", out)
	}
	if strings.Contains(out, "sushi") {
		t.Fatalf("failed keyword should be absent from output: %q", out)
	}
}

func TestByKeywordsSkipsEmptyKeywords(t *testing.T) {
	repo := &fakeRepo{}
	search := NewSearch(repo, &fakeScopes{}, logging.NewLogger())

	out, err := search.ByKeywords(context.Background(), "food.example.com", []string{"", "   "})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if atomic.LoadInt32(&repo.calls) != 0 {
		t.Fatalf("expected no repository calls for empty keywords, got %d", repo.calls)
	}
	if !strings.Contains(out, "No keywords") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestByKeywordsNoMatches(t *testing.T) {
	search := NewSearch(&fakeRepo{}, &fakeScopes{}, logging.NewLogger())

	out, err := search.ByKeywords(context.Background(), "food.example.com", []string{"nothing"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !strings.Contains(out, "No active campaigns matched") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestByKeywordsScopeFallback(t *testing.T) {
	repo := &fakeRepo{byKeyword: map[string][]Campaign{"pizza": {{Name: "Pizza"}}}}
	search := NewSearch(repo, &fakeScopes{err: errors.New("config unavailable")}, logging.NewLogger())

	if _, err := search.ByKeywords(context.Background(), "food.example.com", []string{"pizza"}); err != nil {
		t.Fatalf("scope failure must fall back to unrestricted search: %v", err)
	}
	if len(repo.gotScope.Authorities) != 0 {
		t.Fatalf("expected empty scope, got %+v", repo.gotScope)
	}
}

func TestSQLRepositoryFindActiveByKeyword(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"name", "campaign_types", "object_link", "reward"}).
		AddRow("Review our pizza", "{reviews}", "https://x/pizza", 2.5)

	mock.ExpectQuery(regexp.QuoteMeta("FROM concierge.active_campaigns")).
		WithArgs("pizza", sqlmock.AnyArg()).
		WillReturnRows(rows)

	repo := NewSQLRepository(db)
	campaigns, err := repo.FindActiveByKeyword(context.Background(), "pizza", Scope{Authorities: []string{"guide1"}})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(campaigns) != 1 || campaigns[0].Name != "Review our pizza" {
		t.Fatalf("unexpected campaigns %+v", campaigns)
	}
	if campaigns[0].Reward != 2.5 {
		t.Fatalf("reward = %v", campaigns[0].Reward)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
