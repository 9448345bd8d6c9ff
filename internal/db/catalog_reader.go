package db

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/dpolishuk/apidocs/internal/models"
)

type CatalogReader struct {
	client *Neo4jClient
}

func NewCatalogReader(client *Neo4jClient) *CatalogReader {
	return &CatalogReader{client: client}
}

// ListEndpoints returns the catalogued operations of ref ordered by path
// and method. An unknown ref yields an empty list.
func (r *CatalogReader) ListEndpoints(ctx context.Context, ref models.RepoRef) ([]models.CatalogEndpoint, error) {
	result, err := r.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MATCH (r:ApiRepository {name: $name, branch: $branch})-[:HAS_ENDPOINT]->(e:ApiEndpoint)
			RETURN e.path AS path, e.method AS method, e.view AS view, e.summary AS summary
			ORDER BY e.path, e.method
		`
		records, err := tx.Run(ctx, query, map[string]any{"name": ref.Name(), "branch": ref.Branch})
		if err != nil {
			return nil, err
		}

		endpoints := []models.CatalogEndpoint{}
		for records.Next(ctx) {
			endpoints = append(endpoints, recordToEndpoint(records.Record()))
		}
		return endpoints, records.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoints for %s: %w", ref.Key(), err)
	}
	return result.([]models.CatalogEndpoint), nil
}

// ListRepositories returns every catalogued repository branch, most
// recently produced first.
func (r *CatalogReader) ListRepositories(ctx context.Context) ([]models.CatalogRepository, error) {
	result, err := r.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MATCH (r:ApiRepository)
			RETURN r.name AS name, r.branch AS branch, r.url AS url,
			       r.commit AS commit, r.source AS source,
			       r.endpoints AS endpoints, r.producedAt AS producedAt
			ORDER BY r.producedAt DESC
		`
		records, err := tx.Run(ctx, query, nil)
		if err != nil {
			return nil, err
		}

		repos := []models.CatalogRepository{}
		for records.Next(ctx) {
			repos = append(repos, recordToRepository(records.Record()))
		}
		return repos, records.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	return result.([]models.CatalogRepository), nil
}

func recordToEndpoint(record *neo4j.Record) models.CatalogEndpoint {
	return models.CatalogEndpoint{
		Path:    stringField(record, "path"),
		Method:  stringField(record, "method"),
		View:    stringField(record, "view"),
		Summary: stringField(record, "summary"),
	}
}

func recordToRepository(record *neo4j.Record) models.CatalogRepository {
	repo := models.CatalogRepository{
		Name:   stringField(record, "name"),
		Branch: stringField(record, "branch"),
		URL:    stringField(record, "url"),
		Commit: stringField(record, "commit"),
		Source: models.Source(stringField(record, "source")),
	}
	if count, ok := record.Get("endpoints"); ok && count != nil {
		if n, ok := count.(int64); ok {
			repo.Endpoints = int(n)
		}
	}
	if produced, ok := record.Get("producedAt"); ok && produced != nil {
		if t, ok := produced.(time.Time); ok {
			repo.ProducedAt = t
		}
	}
	return repo
}

func stringField(record *neo4j.Record, key string) string {
	if v, ok := record.Get(key); ok && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
