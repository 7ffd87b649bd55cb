package catalog

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"homework_bot/internal/errdefs"
	"homework_bot/pkg/logger"
)

var catalogURLPattern = regexp.MustCompile(`(?i)gist\.github\.com/[^/]+/([a-z0-9]+)`)

// ParseCatalogURL extracts the catalog id from a gist link.
func ParseCatalogURL(rawURL string) (string, error) {
	m := catalogURLPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", fmt.Errorf("%w: not a catalog link: %q", errdefs.ErrValidation, rawURL)
	}
	return m[1], nil
}

type Cache interface {
	Get(ctx context.Context, catalogID string, taskID int) (string, error)
	Count(ctx context.Context, catalogID string) (int, error)
	InsertIfAbsent(ctx context.Context, catalogID string, tasks map[int]string) error
}

type Fetcher interface {
	FetchCatalog(ctx context.Context, catalogID string) (map[int]string, error)
}

// Service serves task statements from the cache, loading a catalog from the
// remote host the first time one of its tasks is missing.
type Service struct {
	cache   Cache
	fetcher Fetcher
	logger  *logger.Logger
}

func NewService(cache Cache, fetcher Fetcher, log *logger.Logger) *Service {
	return &Service{cache: cache, fetcher: fetcher, logger: log}
}

// Load fetches the catalog behind catalogURL into the cache and returns the
// number of cached tasks.
func (s *Service) Load(ctx context.Context, catalogURL string) (int, error) {
	id, err := ParseCatalogURL(catalogURL)
	if err != nil {
		return 0, err
	}
	if _, err := s.fetch(ctx, id); err != nil {
		return 0, err
	}
	return s.cache.Count(ctx, id)
}

func (s *Service) TaskCount(ctx context.Context, catalogURL string) (int, error) {
	id, err := ParseCatalogURL(catalogURL)
	if err != nil {
		return 0, err
	}
	return s.cache.Count(ctx, id)
}

func (s *Service) TaskStatement(ctx context.Context, catalogURL string, taskID int) (string, error) {
	id, err := ParseCatalogURL(catalogURL)
	if err != nil {
		return "", err
	}

	content, err := s.cache.Get(ctx, id, taskID)
	if err == nil {
		return content, nil
	}
	if !errors.Is(err, errdefs.ErrNotFound) {
		return "", fmt.Errorf("failed to read catalog cache: %w", err)
	}

	tasks, err := s.fetch(ctx, id)
	if err != nil {
		return "", err
	}
	content, ok := tasks[taskID]
	if !ok {
		return "", fmt.Errorf("%w: task %d in catalog %s", errdefs.ErrNotFound, taskID, id)
	}
	return content, nil
}

func (s *Service) fetch(ctx context.Context, id string) (map[int]string, error) {
	tasks, err := s.fetcher.FetchCatalog(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch catalog %s: %w", id, err)
	}
	if err := s.cache.InsertIfAbsent(ctx, id, tasks); err != nil {
		return nil, fmt.Errorf("failed to cache catalog %s: %w", id, err)
	}
	s.logger.Info(ctx, "catalog cached", zap.String("catalog_id", id), zap.Int("tasks", len(tasks)))
	return tasks, nil
}
