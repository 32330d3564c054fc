package rating

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"pagewell/engine/internal/audit"
	"pagewell/engine/internal/store"
)

type fakeVoteStore struct {
	castVoteFn         func(context.Context, int64, int64, int16) error
	retractVoteFn      func(context.Context, int64, int64) error
	getVoteFn          func(context.Context, int64, int64) (int16, error)
	voteDistributionFn func(context.Context, int64) (map[int16]int, error)
	listVoteHistoryFn  func(context.Context, int64) ([]store.RatingHistory, error)
	getPageFn          func(context.Context, int64) (store.Page, error)
}

func (f *fakeVoteStore) CastVote(ctx context.Context, pageID, userID int64, rating int16) error {
	if f.castVoteFn != nil {
		return f.castVoteFn(ctx, pageID, userID, rating)
	}
	return nil
}
func (f *fakeVoteStore) RetractVote(ctx context.Context, pageID, userID int64) error {
	if f.retractVoteFn != nil {
		return f.retractVoteFn(ctx, pageID, userID)
	}
	return nil
}
func (f *fakeVoteStore) GetVote(ctx context.Context, pageID, userID int64) (int16, error) {
	if f.getVoteFn != nil {
		return f.getVoteFn(ctx, pageID, userID)
	}
	return 0, store.ErrNotFound
}
func (f *fakeVoteStore) VoteDistribution(ctx context.Context, pageID int64) (map[int16]int, error) {
	if f.voteDistributionFn != nil {
		return f.voteDistributionFn(ctx, pageID)
	}
	return nil, nil
}
func (f *fakeVoteStore) ListVoteHistory(ctx context.Context, pageID int64) ([]store.RatingHistory, error) {
	if f.listVoteHistoryFn != nil {
		return f.listVoteHistoryFn(ctx, pageID)
	}
	return nil, nil
}
func (f *fakeVoteStore) GetPage(ctx context.Context, pageID int64) (store.Page, error) {
	if f.getPageFn != nil {
		return f.getPageFn(ctx, pageID)
	}
	return store.Page{ID: pageID, WikiID: 1}, nil
}

type fakeAuditRecorder struct {
	entries []store.AuditEntry
}

func (f *fakeAuditRecorder) InsertAuditEntry(_ context.Context, entry store.AuditEntry) (int64, error) {
	f.entries = append(f.entries, entry)
	return int64(len(f.entries)), nil
}
func (f *fakeAuditRecorder) ListAuditEntries(context.Context, int64, int) ([]store.AuditEntry, error) {
	return nil, nil
}

func newTestService(t *testing.T, voteStore VoteStore) (*Service, *ScoreCache, *fakeAuditRecorder) {
	t.Helper()
	s := miniredis.RunT(t)
	cache, err := NewScoreCache("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("create score cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	recorder := &fakeAuditRecorder{}
	service := NewService(voteStore, cache, ScoreSum, audit.NewLog(recorder), zerolog.Nop())
	return service, cache, recorder
}

func TestCastRejectsInvalidVote(t *testing.T) {
	service, _, _ := newTestService(t, &fakeVoteStore{})
	err := service.Cast(context.Background(), 1, 7, 2)
	if !errors.Is(err, ErrInvalidVote) {
		t.Fatalf("expected ErrInvalidVote, got %v", err)
	}
}

func TestCastInvalidatesCachedScore(t *testing.T) {
	votes := map[int16]int{1: 3}
	voteStore := &fakeVoteStore{
		voteDistributionFn: func(context.Context, int64) (map[int16]int, error) {
			return votes, nil
		},
	}
	service, cache, _ := newTestService(t, voteStore)
	ctx := context.Background()

	score, err := service.Score(ctx, 1)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score != 3 {
		t.Fatalf("score = %v, want 3", score)
	}
	if _, ok, _ := cache.Get(ctx, 1); !ok {
		t.Fatal("score must be cached after computation")
	}

	votes = map[int16]int{1: 3, -1: 1}
	if err := service.Cast(ctx, 1, 7, -1); err != nil {
		t.Fatalf("cast: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, 1); ok {
		t.Fatal("cast must invalidate the cached score")
	}

	score, err = service.Score(ctx, 1)
	if err != nil {
		t.Fatalf("score after cast: %v", err)
	}
	if score != 2 {
		t.Fatalf("score = %v, want 2", score)
	}
}

func TestCastRecordsAuditEntry(t *testing.T) {
	service, _, recorder := newTestService(t, &fakeVoteStore{})
	if err := service.Cast(context.Background(), 1, 7, 1); err != nil {
		t.Fatalf("cast: %v", err)
	}
	if len(recorder.entries) != 1 || recorder.entries[0].Type != audit.EntryVoteCast {
		t.Fatalf("audit entries = %+v", recorder.entries)
	}
}

func TestRetractRecordsAuditEntry(t *testing.T) {
	service, _, recorder := newTestService(t, &fakeVoteStore{})
	if err := service.Retract(context.Background(), 1, 7); err != nil {
		t.Fatalf("retract: %v", err)
	}
	if len(recorder.entries) != 1 || recorder.entries[0].Type != audit.EntryVoteRetract {
		t.Fatalf("audit entries = %+v", recorder.entries)
	}
}

func TestScoreSurvivesWithoutCache(t *testing.T) {
	voteStore := &fakeVoteStore{
		voteDistributionFn: func(context.Context, int64) (map[int16]int, error) {
			return map[int16]int{1: 4, -1: 1}, nil
		},
	}
	service := NewService(voteStore, nil, ScoreSum, nil, zerolog.Nop())

	score, err := service.Score(context.Background(), 1)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score != 3 {
		t.Fatalf("score = %v, want 3", score)
	}
}
