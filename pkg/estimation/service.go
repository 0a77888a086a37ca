package estimation

import (
	"context"
	"errors"
	"fmt"

	"github.com/dentage-research/platform/pkg/common/config"
	"github.com/dentage-research/platform/pkg/common/logger"
	"github.com/dentage-research/platform/pkg/common/models"
	"github.com/dentage-research/platform/pkg/observability/metrics"
)

// ErrDuplicateSubmission is returned under the reject policy when a code's
// estimate slot is already filled. The audit log row is appended regardless.
var ErrDuplicateSubmission = errors.New("an estimate for this code was already submitted")

// ErrInvalidSubmission wraps request validation failures.
var ErrInvalidSubmission = errors.New("invalid estimate submission")

type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type Service struct {
	repo   *Repository
	events EventPublisher
	policy config.ResubmissionPolicy
}

func NewService(repo *Repository, events EventPublisher, policy config.ResubmissionPolicy) *Service {
	return &Service{repo: repo, events: events, policy: policy}
}

// Submit records a PI estimate. The append-only log row is always written
// first; reconciliation onto the patient record follows when the code
// resolves. A code that matches no patient leaves the log row in place and
// reports Reconciled=false.
func (s *Service) Submit(ctx context.Context, req models.SubmitEstimateRequest) (models.SubmitEstimateResult, error) {
	if req.Code == "" {
		return models.SubmitEstimateResult{}, fmt.Errorf("%w: code is required", ErrInvalidSubmission)
	}
	if req.EstimatedAge <= 0 {
		return models.SubmitEstimateResult{}, fmt.Errorf("%w: estimated age must be positive", ErrInvalidSubmission)
	}
	method, ok := models.ParseMethod(req.Method)
	if !ok {
		return models.SubmitEstimateResult{}, fmt.Errorf("%w: unknown method %q", ErrInvalidSubmission, req.Method)
	}

	owner, resolveErr := s.repo.ResolveCode(ctx, req.Code)
	if resolveErr != nil && !errors.Is(resolveErr, ErrNoMatchingPatient) {
		return models.SubmitEstimateResult{}, resolveErr
	}

	if resolveErr == nil && owner.Method != method {
		// The code column is authoritative; a mislabeled form submission
		// must not let an AlQahtani estimate land in the Demirjian slot.
		logger.Log.WithFields(map[string]interface{}{
			"submitted_method": string(method),
			"resolved_method":  string(owner.Method),
		}).Warn("submitted method does not match code, using resolved method")
		method = owner.Method
	}

	entry, err := s.repo.AppendEntry(ctx, AppendEntryInput{
		Code:         req.Code,
		EstimatedAge: req.EstimatedAge,
		Method:       method,
		ToothStages:  req.ToothStages,
	})
	if err != nil {
		return models.SubmitEstimateResult{}, err
	}

	if errors.Is(resolveErr, ErrNoMatchingPatient) {
		metrics.IncOrphanedEstimates()
		logger.Log.WithField("code", req.Code).Warn("estimate submitted for unknown code, logged without reconciliation")
		return models.SubmitEstimateResult{EntryID: entry.ID, Reconciled: false}, nil
	}

	if s.policy == config.ResubmissionReject && owner.ExistingValue != nil {
		return models.SubmitEstimateResult{EntryID: entry.ID, Reconciled: false}, ErrDuplicateSubmission
	}

	if err := s.repo.WriteEstimate(ctx, owner.RowID, method, req.EstimatedAge, req.ErrorMargin); err != nil {
		return models.SubmitEstimateResult{}, err
	}

	metrics.IncEstimatesSubmitted()
	if s.events != nil {
		_ = s.events.PublishEvent(ctx, models.EventEstimateSubmitted, "study-service", map[string]interface{}{
			"method": string(method),
		})
	}

	return models.SubmitEstimateResult{EntryID: entry.ID, Reconciled: true, Method: method.Label()}, nil
}

func (s *Service) RecentEntries(ctx context.Context, limit int) ([]models.EstimationEntry, error) {
	return s.repo.ListEntries(ctx, limit)
}
