package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrEmptyRepo   = errors.New("repository url is required")
	ErrEmptyBranch = errors.New("branch is required")
)

// RepoRef identifies one branch of a remote repository.
type RepoRef struct {
	URL    string `json:"repo_url"`
	Branch string `json:"branch"`
}

// NewRepoRef validates url and branch. url may also be a bare repository
// name, which is how the read endpoints address stored documents.
func NewRepoRef(url, branch string) (RepoRef, error) {
	url = strings.TrimSpace(url)
	branch = strings.TrimSpace(branch)
	if url == "" {
		return RepoRef{}, ErrEmptyRepo
	}
	if branch == "" {
		return RepoRef{}, ErrEmptyBranch
	}
	ref := RepoRef{URL: url, Branch: branch}
	name := ref.Name()
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return RepoRef{}, fmt.Errorf("cannot derive a repository name from %q", url)
	}
	return ref, nil
}

// Name is the final path segment of the URL without a trailing ".git".
func (r RepoRef) Name() string {
	return ExtractRepoName(r.URL)
}

// Key is the identity used by the store, the job tracker and single-flight.
func (r RepoRef) Key() string {
	return r.Name() + "@" + r.Branch
}

func (r RepoRef) String() string {
	return r.URL + "#" + r.Branch
}

// ExtractRepoName extracts repository name from URL
func ExtractRepoName(url string) string {
	url = strings.TrimRight(url, "/")
	url = strings.TrimSuffix(url, ".git")

	// Handle HTTPS URLs
	if strings.Contains(url, "://") {
		parts := strings.Split(url, "/")
		return parts[len(parts)-1]
	}

	// Handle SSH URLs (git@github.com:owner/repo)
	if i := strings.LastIndex(url, ":"); i >= 0 {
		url = url[i+1:]
	}
	parts := strings.Split(url, "/")
	return parts[len(parts)-1]
}

// Source records which producer the stored document came from.
type Source string

const (
	SourceAnalyzer    Source = "analyzer"
	SourceLLM         Source = "llm"
	SourceAnalyzerLLM Source = "analyzer+llm"
)

// StoredDoc is the latest generated document for a RepoRef.
type StoredDoc struct {
	Ref        RepoRef   `json:"ref"`
	Document   []byte    `json:"-"`
	ProducedAt time.Time `json:"producedAt"`
	Commit     string    `json:"commit,omitempty"`
	Source     Source    `json:"source"`
	Endpoints  int       `json:"endpoints"`
}
