package vectorstore

import (
	"context"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return f.vector, f.err
}

func TestSimilaritySearch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "collection", "doc_text", "metadata", "distance"}).
		AddRow("doc-1", "campaign-management", "[Reservation] How to reserve", []byte(`{"topic":"rewards"}`), 0.12).
		AddRow("doc-2", "campaign-management", "[Eligibility] Who can join", nil, 0.31)

	mock.ExpectQuery(regexp.QuoteMeta("embedding <=> $2 AS distance")).
		WithArgs("campaign-management", sqlmock.AnyArg(), 2).
		WillReturnRows(rows)

	store := NewStore(db, &fakeEmbedder{vector: []float32{0.1, 0.2}})
	docs, err := store.SimilaritySearch(context.Background(), "campaign-management", "how do I reserve", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[0].Distance != 0.12 {
		t.Fatalf("distance = %v, want 0.12", docs[0].Distance)
	}
	if docs[0].Metadata["topic"] != "rewards" {
		t.Fatalf("metadata not decoded: %+v", docs[0].Metadata)
	}
	if docs[1].Metadata != nil {
		t.Fatalf("expected nil metadata, got %+v", docs[1].Metadata)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSimilaritySearchEmbedderError(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	store := NewStore(db, &fakeEmbedder{err: errors.New("embedding service down")})
	if _, err := store.SimilaritySearch(context.Background(), "general", "query", 3); err == nil {
		t.Fatal("expected error when embedder fails")
	}
}

func TestCollectionExists(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("Examplestore").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	store := NewStore(db, &fakeEmbedder{})
	exists, err := store.CollectionExists(context.Background(), "Examplestore")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !exists {
		t.Fatal("expected collection to exist")
	}
}

func TestListCollections(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT collection")).
		WillReturnRows(sqlmock.NewRows([]string{"collection"}).
			AddRow("CuratedQnA").
			AddRow("Sitestore"))

	store := NewStore(db, &fakeEmbedder{})
	collections, err := store.ListCollections(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(collections) != 2 || collections[0] != "CuratedQnA" {
		t.Fatalf("unexpected collections %v", collections)
	}
}
