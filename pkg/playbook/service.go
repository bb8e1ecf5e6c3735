package playbook

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cascadelabs/cascade/pkg/config"
)

// Service resolves playbook content for the ContextAssembly stage: given a
// query-attached URL it fetches (and caches) the content from GitHub;
// otherwise it falls back to the configured inline default.
type Service struct {
	github   *GitHubClient
	cache    *Cache
	cfg      *config.PlaybookConfig
	defaults string
}

// NewService creates a new Service. githubToken is the resolved token value
// (empty string means no auth, public repos only).
func NewService(cfg *config.PlaybookConfig, githubToken string) *Service {
	cacheTTL := 1 * time.Minute
	if cfg != nil && cfg.CacheTTLMs > 0 {
		cacheTTL = time.Duration(cfg.CacheTTLMs) * time.Millisecond
	}

	defaults := ""
	if cfg != nil {
		defaults = cfg.Default
	}

	return &Service{
		github:   NewGitHubClient(githubToken),
		cache:    NewCache(cacheTTL),
		cfg:      cfg,
		defaults: defaults,
	}
}

// Resolve returns playbook content using the resolution hierarchy:
//  1. queryPlaybookURL (attached to the query, if any)
//  2. domainLabel's entry in config.DomainDefaults, if DomainDetect
//     classified the query and an operator pinned a playbook for that
//     domain
//  3. inline default content from config
//
// URL-based playbooks (from either of the first two tiers) are fetched via
// GitHubClient with caching. On fetch failure the error is returned —
// ContextAssembly then degrades to an empty playbook rather than failing
// the stage.
func (s *Service) Resolve(ctx context.Context, domainLabel, queryPlaybookURL string) (string, error) {
	if queryPlaybookURL != "" {
		content, err := s.fetchWithCache(ctx, queryPlaybookURL)
		if err != nil {
			return "", fmt.Errorf("fetch playbook %s: %w", queryPlaybookURL, err)
		}
		return content, nil
	}

	if domainLabel != "" && s.cfg != nil {
		if domainURL, ok := s.cfg.DomainDefaults[domainLabel]; ok && domainURL != "" {
			content, err := s.fetchWithCache(ctx, domainURL)
			if err != nil {
				return "", fmt.Errorf("fetch domain %q playbook %s: %w", domainLabel, domainURL, err)
			}
			return content, nil
		}
	}

	return s.defaults, nil
}

// ListPlaybooks returns available playbook URLs from the configured
// repository, or an empty slice if no repo is configured.
func (s *Service) ListPlaybooks(ctx context.Context) ([]string, error) {
	if s.cfg == nil || s.cfg.RepoURL == "" {
		return []string{}, nil
	}

	if cached, ok := s.cache.Get(s.cfg.RepoURL); ok {
		return splitCachedList(cached), nil
	}

	files, err := s.github.ListMarkdownFiles(ctx, s.cfg.RepoURL)
	if err != nil {
		return nil, fmt.Errorf("list playbooks from %s: %w", s.cfg.RepoURL, err)
	}

	if files == nil {
		files = []string{}
	}

	s.cache.Set(s.cfg.RepoURL, joinForCache(files))
	return files, nil
}

// OverrideHTTPClientForTest replaces the internal GitHub client's HTTP
// client. For testing only.
func (s *Service) OverrideHTTPClientForTest(httpClient *http.Client) {
	s.github.httpClient = httpClient
}

func (s *Service) fetchWithCache(ctx context.Context, rawURL string) (string, error) {
	var allowedDomains []string
	if s.cfg != nil {
		allowedDomains = s.cfg.AllowedDomains
	}
	if err := ValidatePlaybookURL(rawURL, allowedDomains); err != nil {
		return "", err
	}

	normalizedURL := ConvertToRawURL(rawURL)
	if content, ok := s.cache.Get(normalizedURL); ok {
		return content, nil
	}

	content, err := s.github.DownloadContent(ctx, rawURL)
	if err != nil {
		return "", err
	}

	s.cache.Set(normalizedURL, content)
	return content, nil
}

func joinForCache(items []string) string {
	if len(items) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(items[0])
	for _, item := range items[1:] {
		sb.WriteByte('\x00')
		sb.WriteString(item)
	}
	return sb.String()
}

func splitCachedList(cached string) []string {
	if cached == "" {
		return []string{}
	}
	var result []string
	start := 0
	for i := 0; i < len(cached); i++ {
		if cached[i] == '\x00' {
			result = append(result, cached[start:i])
			start = i + 1
		}
	}
	result = append(result, cached[start:])
	return result
}
