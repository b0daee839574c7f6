package usecase

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sheetlens/backend/internal/domain"
	"github.com/sheetlens/backend/internal/infrastructure/search"
	"github.com/sheetlens/backend/internal/observability"
	"golang.org/x/sync/errgroup"
)

// EANServiceConfig holds configuration for the EAN lookup service
type EANServiceConfig struct {
	// Configured is false when search credentials are missing; every call
	// then gets the configuration error reply.
	Configured  bool
	Concurrency int
}

// EANService resolves product titles to EAN/UPC codes through web search
type EANService struct {
	searcher    domain.EANSearcher
	configured  bool
	concurrency int
	logger      zerolog.Logger
}

// NewEANService creates a new EAN lookup service
func NewEANService(searcher domain.EANSearcher, config EANServiceConfig, logger zerolog.Logger) *EANService {
	concurrency := config.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	return &EANService{
		searcher:    searcher,
		configured:  config.Configured && searcher != nil,
		concurrency: concurrency,
		logger:      observability.Component(logger, "ean"),
	}
}

// Lookup returns one reply per title, in input order.
// Failures never abort the batch; they become the search error reply.
// The error is only set when ctx ends before the batch completes.
func (s *EANService) Lookup(ctx context.Context, titles []string) ([]string, error) {
	replies := make([]string, len(titles))

	if !s.configured {
		s.logger.Error().Int("calls", len(titles)).Msg("search credentials are not configured")
		for i := range replies {
			replies[i] = domain.EANConfigError
		}
		return replies, nil
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)

	for i, title := range titles {
		if ctx.Err() != nil {
			replies[i] = domain.EANSearchError
			continue
		}
		g.Go(func() error {
			replies[i] = s.lookupOne(ctx, title)
			return nil
		})
	}
	_ = g.Wait()

	return replies, ctx.Err()
}

// lookupOne resolves a single title
func (s *EANService) lookupOne(ctx context.Context, title string) string {
	if strings.TrimSpace(title) == "" {
		return domain.EANNotFound
	}

	items, err := s.searcher.Search(ctx, search.BuildQuery(title))
	if err != nil {
		s.logger.Warn().Err(err).Str("title", title).Msg("EAN search failed")
		return domain.EANSearchError
	}

	if code, ok := search.FindEAN(items); ok {
		return code
	}
	return domain.EANNotFound
}

// HandleRemoteCalls answers a remote function request.
// The reply list always has the same length as the call list.
func (s *EANService) HandleRemoteCalls(ctx context.Context, req domain.LookupRequest) domain.LookupResponse {
	replies, err := s.Lookup(ctx, req.Titles())
	if err != nil {
		s.logger.Warn().Err(err).Int("calls", len(req.Calls)).Msg("lookup batch interrupted")
	}
	return domain.LookupResponse{Replies: replies}
}
