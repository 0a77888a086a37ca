package blinding

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	mrand "math/rand"
	"strings"

	"github.com/dentage-research/platform/pkg/common/config"
	"github.com/dentage-research/platform/pkg/common/logger"
	"github.com/dentage-research/platform/pkg/common/models"
	"github.com/dentage-research/platform/pkg/observability/metrics"
)

const generationAttempts = 100

// CodeLog is the view of the estimation log this package needs to filter
// already-estimated entries out of the blinded list.
type CodeLog interface {
	EstimatedCodes(ctx context.Context) (map[string]struct{}, error)
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type Service struct {
	repo    *Repository
	log     CodeLog
	events  EventPublisher
	length  int
	alpha   string
	retries int
}

func NewService(repo *Repository, log CodeLog, events EventPublisher, cfg *config.Config) *Service {
	return &Service{
		repo:    repo,
		log:     log,
		events:  events,
		length:  cfg.CodeLength,
		alpha:   cfg.CodeAlphabet,
		retries: cfg.CodeSweepRetries,
	}
}

// AssignMissingCodes gives every patient missing code_a or code_b a fresh
// random code, re-rolling on collision with any code already assigned
// anywhere. Patients holding both codes are untouched, so the sweep is
// idempotent. The unique constraints on both columns are the authoritative
// backstop: if a concurrent sweep commits a colliding code first, the
// transaction rolls back and the sweep is retried from scratch.
func (s *Service) AssignMissingCodes(ctx context.Context) (int, error) {
	var assigned int
	var lastErr error

	for attempt := 0; attempt <= s.retries; attempt++ {
		assigned = 0
		err := s.repo.Sweep(ctx, func(tx *Repository) error {
			rows, err := tx.MissingCodeRows(ctx)
			if err != nil {
				return err
			}
			taken, err := tx.AssignedCodes(ctx)
			if err != nil {
				return err
			}

			for _, row := range rows {
				var codeA, codeB *string
				if row.CodeA == nil {
					code, err := s.generateCode(taken)
					if err != nil {
						return err
					}
					taken[code] = struct{}{}
					codeA = &code
					assigned++
				}
				if row.CodeB == nil {
					code, err := s.generateCode(taken)
					if err != nil {
						return err
					}
					taken[code] = struct{}{}
					codeB = &code
					assigned++
				}
				if codeA == nil && codeB == nil {
					continue
				}
				if err := tx.SetCodes(ctx, row.RowID, codeA, codeB); err != nil {
					return err
				}
			}
			return nil
		})
		if err == nil {
			lastErr = nil
			break
		}

		lastErr = err
		if !isUniqueViolation(err) {
			return 0, err
		}
		logger.Log.WithError(err).WithField("attempt", attempt+1).Warn("code assignment hit a constraint collision, retrying sweep")
	}
	if lastErr != nil {
		return 0, lastErr
	}

	if assigned > 0 {
		metrics.AddCodesAssigned(assigned)
		if s.events != nil {
			_ = s.events.PublishEvent(ctx, models.EventCodesAssigned, "study-service", map[string]interface{}{
				"assigned": assigned,
			})
		}
	}
	return assigned, nil
}

// BuildBlindedView assembles the PI-facing entry list: one entry per assigned
// code, labeled with its method, shuffled so the two entries for one image
// carry no positional hint of belonging together.
func (s *Service) BuildBlindedView(ctx context.Context, search string, excludeEstimated bool) ([]models.BlindedEntry, error) {
	rows, err := s.repo.CodedRows(ctx, search)
	if err != nil {
		return nil, err
	}

	estimated := map[string]struct{}{}
	if excludeEstimated {
		estimated, err = s.log.EstimatedCodes(ctx)
		if err != nil {
			return nil, err
		}
	}

	entries := make([]models.BlindedEntry, 0, len(rows)*2)
	for _, row := range rows {
		if row.CodeA != nil {
			if _, done := estimated[*row.CodeA]; !done {
				entries = append(entries, models.BlindedEntry{
					Code:    *row.CodeA,
					OPGLink: row.OPGLink,
					Sex:     row.Sex,
					Method:  models.MethodAlQahtani.Label(),
				})
			}
		}
		if row.CodeB != nil {
			if _, done := estimated[*row.CodeB]; !done {
				entries = append(entries, models.BlindedEntry{
					Code:    *row.CodeB,
					OPGLink: row.OPGLink,
					Sex:     row.Sex,
					Method:  models.MethodDemirjian.Label(),
				})
			}
		}
	}

	mrand.Shuffle(len(entries), func(i, j int) {
		entries[i], entries[j] = entries[j], entries[i]
	})
	return entries, nil
}

// generateCode draws a fixed-length code from the configured alphabet,
// re-rolling until it misses every taken code. With an 8-character base-36
// code the namespace holds ~2.8e12 values, so collisions at study scale are
// re-rolled away in practice.
func (s *Service) generateCode(taken map[string]struct{}) (string, error) {
	for attempt := 0; attempt < generationAttempts; attempt++ {
		var b strings.Builder
		b.Grow(s.length)
		for i := 0; i < s.length; i++ {
			idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(s.alpha))))
			if err != nil {
				return "", err
			}
			b.WriteByte(s.alpha[idx.Int64()])
		}
		code := b.String()
		if _, exists := taken[code]; !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique code after %d attempts", generationAttempts)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint")
}
