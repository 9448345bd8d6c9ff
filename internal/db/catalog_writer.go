package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/dpolishuk/apidocs/internal/models"
)

// CatalogWriter mirrors every stored document into the graph as an
// ApiRepository node linked to one ApiEndpoint node per operation.
type CatalogWriter struct {
	client *Neo4jClient
}

func NewCatalogWriter(client *Neo4jClient) *CatalogWriter {
	return &CatalogWriter{client: client}
}

// Publish replaces the catalog entry of doc.Ref with the operations in
// descs.
func (w *CatalogWriter) Publish(ctx context.Context, doc models.StoredDoc, descs []models.EndpointDescriptor) error {
	rows := endpointRows(descs)

	_, err := w.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MERGE (r:ApiRepository {name: $name, branch: $branch})
			SET r.url = $url,
			    r.commit = $commit,
			    r.source = $source,
			    r.endpoints = $count,
			    r.producedAt = $producedAt
			WITH r
			OPTIONAL MATCH (r)-[:HAS_ENDPOINT]->(old:ApiEndpoint)
			DETACH DELETE old
		`
		if _, err := tx.Run(ctx, query, repositoryParams(doc, len(rows))); err != nil {
			return nil, err
		}

		if len(rows) == 0 {
			return nil, nil
		}
		query = `
			MATCH (r:ApiRepository {name: $name, branch: $branch})
			UNWIND $endpoints AS ep
			CREATE (e:ApiEndpoint {
				path: ep.path,
				method: ep.method,
				view: ep.view,
				summary: ep.summary
			})
			CREATE (r)-[:HAS_ENDPOINT]->(e)
		`
		_, err := tx.Run(ctx, query, map[string]any{
			"name":      doc.Ref.Name(),
			"branch":    doc.Ref.Branch,
			"endpoints": rows,
		})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("failed to publish endpoints for %s: %w", doc.Ref.Key(), err)
	}
	return nil
}

func repositoryParams(doc models.StoredDoc, count int) map[string]any {
	return map[string]any{
		"name":       doc.Ref.Name(),
		"branch":     doc.Ref.Branch,
		"url":        doc.Ref.URL,
		"commit":     doc.Commit,
		"source":     string(doc.Source),
		"count":      count,
		"producedAt": doc.ProducedAt.UTC(),
	}
}

// endpointRows flattens descriptors into one row per (path, method), in
// the order they first appear. A later descriptor for the same operation
// replaces the earlier one, as in the generated document.
func endpointRows(descs []models.EndpointDescriptor) []map[string]any {
	index := make(map[string]int)
	var rows []map[string]any
	for _, d := range descs {
		if !d.Emittable() {
			continue
		}
		for _, m := range d.Methods {
			method := strings.ToLower(m)
			row := map[string]any{
				"path":    d.Path,
				"method":  method,
				"view":    d.View,
				"summary": d.Summary,
			}
			key := method + " " + d.Path
			if i, ok := index[key]; ok {
				rows[i] = row
				continue
			}
			index[key] = len(rows)
			rows = append(rows, row)
		}
	}
	return rows
}
