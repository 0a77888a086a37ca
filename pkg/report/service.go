package report

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/dentage-research/platform/pkg/common/logger"
	"github.com/dentage-research/platform/pkg/common/models"
)

type Service struct {
	repo  *Repository
	cache Cache
}

func NewService(repo *Repository, cache Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// Summary returns the per-method accuracy rollup, served from cache when a
// fresh copy exists. Cache errors fall through to a live computation.
func (s *Service) Summary(ctx context.Context) (models.AnalysisSummary, error) {
	if cached, err := s.cache.Get(ctx); err == nil {
		return cached, nil
	} else if !errors.Is(err, ErrCacheMiss) {
		logger.Log.WithError(err).Warn("report cache read failed, recomputing")
	}

	summary, err := s.compute(ctx)
	if err != nil {
		return models.AnalysisSummary{}, err
	}

	if err := s.cache.Set(ctx, summary); err != nil {
		logger.Log.WithError(err).Warn("report cache write failed")
	}
	return summary, nil
}

func (s *Service) Pairs(ctx context.Context) ([]models.AccuracyPair, error) {
	return s.repo.CollectPairs(ctx)
}

// Invalidate drops the cached summary. Called when a study mutation event
// arrives.
func (s *Service) Invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		logger.Log.WithError(err).Warn("report cache invalidation failed")
	}
}

func (s *Service) compute(ctx context.Context) (models.AnalysisSummary, error) {
	pairs, err := s.repo.CollectPairs(ctx)
	if err != nil {
		return models.AnalysisSummary{}, err
	}
	patients, err := s.repo.PatientCount(ctx)
	if err != nil {
		return models.AnalysisSummary{}, err
	}

	summary := models.AnalysisSummary{
		Patients:    int(patients),
		GeneratedAt: time.Now().UTC(),
	}
	for _, method := range []models.Method{models.MethodAlQahtani, models.MethodDemirjian} {
		summary.Methods = append(summary.Methods, summarizeMethod(method, pairs))
	}
	return summary, nil
}

func summarizeMethod(method models.Method, pairs []models.AccuracyPair) models.MethodSummary {
	out := models.MethodSummary{Method: method}
	var absSum, errSum float64
	for _, pair := range pairs {
		if pair.Method != method {
			continue
		}
		diff := pair.EstimatedAge - pair.ActualAge
		absSum += math.Abs(diff)
		errSum += diff
		out.Pairs++
	}
	if out.Pairs > 0 {
		out.MeanAbsoluteError = absSum / float64(out.Pairs)
		out.MeanError = errSum / float64(out.Pairs)
	}
	return out
}
