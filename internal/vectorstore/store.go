package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"
)

// Document is one retrieved knowledge fragment. Distance is the cosine
// distance reported by pgvector; smaller is closer.
type Document struct {
	ID         string
	Collection string
	Text       string
	Metadata   map[string]any
	Distance   float64
}

// Embedder turns a query string into a vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// Store runs similarity searches over named collections in a single
// pgvector-backed table.
type Store struct {
	db       *sql.DB
	embedder Embedder
}

func NewStore(db *sql.DB, embedder Embedder) *Store {
	return &Store{db: db, embedder: embedder}
}

// CollectionExists reports whether a collection holds any documents.
func (s *Store) CollectionExists(ctx context.Context, collection string) (bool, error) {
	if collection == "" {
		return false, errors.New("collection is required")
	}

	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM concierge.knowledge_documents WHERE collection = $1
		)
	`, collection).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check collection: %w", err)
	}
	return exists, nil
}

// ListCollections returns every distinct collection name.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT collection FROM concierge.knowledge_documents ORDER BY collection
	`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var collections []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan collection name: %w", err)
		}
		collections = append(collections, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collections: %w", err)
	}
	return collections, nil
}

// SimilaritySearch returns the k nearest documents in a collection.
func (s *Store) SimilaritySearch(ctx context.Context, collection, query string, k int) ([]Document, error) {
	if collection == "" {
		return nil, errors.New("collection is required")
	}
	if query == "" {
		return nil, errors.New("query is required")
	}
	if k <= 0 {
		k = 5
	}

	embedding, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id,
			collection,
			doc_text,
			metadata,
			embedding <=> $2 AS distance
		FROM concierge.knowledge_documents
		WHERE collection = $1
		ORDER BY embedding <=> $2
		LIMIT $3
	`, collection, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("search collection %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		var metadataBytes []byte
		if err := rows.Scan(&doc.ID, &doc.Collection, &doc.Text, &metadataBytes, &doc.Distance); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if len(metadataBytes) > 0 {
			if err := json.Unmarshal(metadataBytes, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}
