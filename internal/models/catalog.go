package models

import "time"

// CatalogEndpoint is one operation recorded in the endpoint catalog.
type CatalogEndpoint struct {
	Path    string `json:"path"`
	Method  string `json:"method"`
	View    string `json:"view,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// CatalogRepository is a repository branch known to the catalog.
type CatalogRepository struct {
	Name       string    `json:"name"`
	Branch     string    `json:"branch"`
	URL        string    `json:"url"`
	Commit     string    `json:"commit,omitempty"`
	Source     Source    `json:"source"`
	Endpoints  int       `json:"endpoints"`
	ProducedAt time.Time `json:"producedAt"`
}
