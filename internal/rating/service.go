package rating

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"pagewell/engine/internal/audit"
	"pagewell/engine/internal/store"
)

// ErrInvalidVote is returned for vote values outside -1, 0, +1.
var ErrInvalidVote = errors.New("vote must be -1, 0 or +1")

// VoteStore is the slice of the metadata store the rating service uses.
type VoteStore interface {
	CastVote(ctx context.Context, pageID, userID int64, rating int16) error
	RetractVote(ctx context.Context, pageID, userID int64) error
	GetVote(ctx context.Context, pageID, userID int64) (int16, error)
	VoteDistribution(ctx context.Context, pageID int64) (map[int16]int, error)
	ListVoteHistory(ctx context.Context, pageID int64) ([]store.RatingHistory, error)
	GetPage(ctx context.Context, pageID int64) (store.Page, error)
}

type Service struct {
	store  VoteStore
	cache  *ScoreCache
	scorer Scorer
	trail  *audit.Log
	log    zerolog.Logger
}

func NewService(voteStore VoteStore, cache *ScoreCache, scorer Scorer, trail *audit.Log, log zerolog.Logger) *Service {
	return &Service{
		store:  voteStore,
		cache:  cache,
		scorer: scorer,
		trail:  trail,
		log:    log,
	}
}

// Cast records or replaces a user's vote. The audit entry and the cache
// invalidation ride along best-effort; the vote itself is the durable part.
func (s *Service) Cast(ctx context.Context, pageID, userID int64, vote int16) error {
	if vote < -1 || vote > 1 {
		return fmt.Errorf("vote %d: %w", vote, ErrInvalidVote)
	}
	if err := s.store.CastVote(ctx, pageID, userID, vote); err != nil {
		return err
	}
	s.invalidate(ctx, pageID)
	s.record(ctx, audit.EntryVoteCast, pageID, userID, map[string]any{
		"page_id": pageID,
		"vote":    vote,
	})
	return nil
}

// Retract removes a user's vote entirely, which is distinct from casting a
// neutral vote of 0.
func (s *Service) Retract(ctx context.Context, pageID, userID int64) error {
	if err := s.store.RetractVote(ctx, pageID, userID); err != nil {
		return err
	}
	s.invalidate(ctx, pageID)
	s.record(ctx, audit.EntryVoteRetract, pageID, userID, map[string]any{
		"page_id": pageID,
	})
	return nil
}

func (s *Service) Vote(ctx context.Context, pageID, userID int64) (int16, error) {
	return s.store.GetVote(ctx, pageID, userID)
}

func (s *Service) Distribution(ctx context.Context, pageID int64) (Votes, error) {
	dist, err := s.store.VoteDistribution(ctx, pageID)
	if err != nil {
		return Votes{}, err
	}
	return NewVotes(dist), nil
}

// Score computes the page's score with the configured scorer, consulting the
// cache first. Cache failures degrade to a store read.
func (s *Service) Score(ctx context.Context, pageID int64) (float64, error) {
	score, ok, err := s.cache.Get(ctx, pageID)
	if err != nil {
		s.log.Warn().Err(err).Int64("page_id", pageID).Msg("score cache read failed")
	} else if ok {
		return score, nil
	}

	votes, err := s.Distribution(ctx, pageID)
	if err != nil {
		return 0, err
	}
	score = s.scorer(votes)

	if err := s.cache.Set(ctx, pageID, score); err != nil {
		s.log.Warn().Err(err).Int64("page_id", pageID).Msg("score cache write failed")
	}
	return score, nil
}

// History returns the page's full vote ledger, retractions included.
func (s *Service) History(ctx context.Context, pageID int64) ([]store.RatingHistory, error) {
	return s.store.ListVoteHistory(ctx, pageID)
}

func (s *Service) invalidate(ctx context.Context, pageID int64) {
	if err := s.cache.Invalidate(ctx, pageID); err != nil {
		s.log.Warn().Err(err).Int64("page_id", pageID).Msg("score cache invalidation failed")
	}
}

func (s *Service) record(ctx context.Context, entryType string, pageID, userID int64, data map[string]any) {
	if s.trail == nil {
		return
	}
	page, err := s.store.GetPage(ctx, pageID)
	if err != nil {
		s.log.Warn().Err(err).Int64("page_id", pageID).Msg("audit lookup failed")
		return
	}
	if err := s.trail.Record(ctx, entryType, page.WikiID, &userID, data); err != nil {
		s.log.Warn().Err(err).Int64("page_id", pageID).Msg("audit write failed")
	}
}
