package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/ruteri/safe-forge/interfaces"
)

const defaultGitHubAPI = "https://api.github.com"

// GitHubBackend is a read-only backend over a repository laid out like a
// file backend: <dir>/<content type>/<content id>. It lets operators
// publish reviewed template code through git.
type GitHubBackend struct {
	owner       string
	repo        string
	dir         string
	ref         string
	token       string
	apiURL      string
	client      *http.Client
	log         *slog.Logger
	locationURI string
}

// GitHubContent is the subset of the contents API response we use.
type GitHubContent struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	SHA      string `json:"sha"`
	Size     int    `json:"size"`
}

// NewGitHubBackend creates a backend for owner/repo. Dir and ref are
// optional; an empty ref selects the default branch.
func NewGitHubBackend(owner, repo, dir, ref, token string, log *slog.Logger) *GitHubBackend {
	uri := fmt.Sprintf("github://%s/%s", owner, repo)
	if dir = strings.Trim(dir, "/"); dir != "" {
		uri += "/" + dir
	}
	if ref != "" {
		uri += "?ref=" + ref
	}

	return &GitHubBackend{
		owner:       owner,
		repo:        repo,
		dir:         dir,
		ref:         ref,
		token:       token,
		apiURL:      defaultGitHubAPI,
		client:      &http.Client{Timeout: 30 * time.Second},
		log:         log,
		locationURI: uri,
	}
}

// WithAPIURL points the backend at a different API host, such as GitHub
// Enterprise.
func (b *GitHubBackend) WithAPIURL(apiURL string) *GitHubBackend {
	b.apiURL = strings.TrimSuffix(apiURL, "/")
	return b
}

// Fetch downloads the file for id and verifies its hash.
func (b *GitHubBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	ctDir, err := contentDir(contentType)
	if err != nil {
		return nil, err
	}

	content, err := b.fetchContent(ctx, path.Join(b.dir, ctDir, id.String()))
	if err != nil {
		return nil, err
	}

	if content.Encoding != "base64" {
		return nil, fmt.Errorf("unexpected content encoding: %s", content.Encoding)
	}

	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content.Content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("failed to decode content: %w", err)
	}

	if hash := interfaces.ComputeID(data); hash != id {
		b.log.Warn("Content hash mismatch",
			slog.String("expected", id.String()),
			slog.String("actual", hash.String()))
		return nil, fmt.Errorf("content hash mismatch")
	}

	b.log.Debug("Fetched content from GitHub",
		slog.String("blobSHA", content.SHA),
		slog.Int("size", len(data)))

	return data, nil
}

// Store always fails: the backend is read-only.
func (b *GitHubBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	return interfaces.ComputeID(data), interfaces.ErrReadOnlyBackend
}

// Available checks that the repository is reachable.
func (b *GitHubBackend) Available(ctx context.Context) bool {
	resp, err := b.get(ctx, fmt.Sprintf("%s/repos/%s/%s", b.apiURL, b.owner, b.repo))
	if err != nil {
		b.log.Debug("GitHub backend unavailable", "err", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b.log.Debug("GitHub backend unavailable", slog.String("status", resp.Status))
		return false
	}
	return true
}

func (b *GitHubBackend) Name() string {
	return fmt.Sprintf("github-%s-%s", b.owner, b.repo)
}

func (b *GitHubBackend) LocationURI() string {
	return b.locationURI
}

func (b *GitHubBackend) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
	return b.client.Do(req)
}

func (b *GitHubBackend) fetchContent(ctx context.Context, filePath string) (*GitHubContent, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/contents/%s", b.apiURL, b.owner, b.repo, filePath)
	if b.ref != "" {
		url += "?ref=" + b.ref
	}

	resp, err := b.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, interfaces.ErrContentNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("GitHub API error: %s, %s", resp.Status, string(body))
	}

	var content GitHubContent
	if err := json.NewDecoder(resp.Body).Decode(&content); err != nil {
		return nil, fmt.Errorf("failed to decode content: %w", err)
	}
	if content.Type != "" && content.Type != "file" {
		return nil, fmt.Errorf("unexpected content type %q at %s", content.Type, filePath)
	}

	return &content, nil
}
