package registry

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/dentage-research/platform/pkg/common/logger"
	"github.com/dentage-research/platform/pkg/common/models"
	"github.com/dentage-research/platform/pkg/observability/metrics"
	"github.com/dentage-research/platform/pkg/opgstore"
)

// EntryPurger removes estimation log rows for a deleted patient's codes.
type EntryPurger interface {
	PurgeByCodes(ctx context.Context, codes []string) (int64, error)
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type Service struct {
	repo    *Repository
	store   opgstore.Store
	entries EntryPurger
	events  EventPublisher
}

func NewService(repo *Repository, store opgstore.Store, entries EntryPurger, events EventPublisher) *Service {
	return &Service{repo: repo, store: store, entries: entries, events: events}
}

func (s *Service) Create(ctx context.Context, req models.CreatePatientRequest) (models.Patient, error) {
	if req.PatientID == "" {
		return models.Patient{}, fmt.Errorf("patient_id is required")
	}
	if req.Sex == "" {
		return models.Patient{}, fmt.Errorf("sex is required")
	}

	patient, err := s.repo.Create(ctx, CreatePatientInput{
		PatientID: req.PatientID,
		Name:      req.Name,
		ActualAge: req.ActualAge,
		Sex:       req.Sex,
	})
	if err != nil {
		return models.Patient{}, err
	}

	if err := s.renumber(ctx); err != nil {
		return models.Patient{}, err
	}

	// The identifier may have moved during renumbering.
	patient, err = s.repo.GetByID(ctx, patient.ID)
	if err != nil {
		return models.Patient{}, err
	}

	s.publish(ctx, models.EventPatientCreated, map[string]interface{}{"patient_id": patient.PatientID})
	s.observeCount(ctx)
	return patient, nil
}

func (s *Service) Update(ctx context.Context, id int64, req models.UpdatePatientRequest) (models.Patient, error) {
	if req.PatientID == "" {
		return models.Patient{}, fmt.Errorf("patient_id is required")
	}

	patient, idChanged, err := s.repo.Update(ctx, id, UpdatePatientInput{
		PatientID: req.PatientID,
		Name:      req.Name,
		ActualAge: req.ActualAge,
		Sex:       req.Sex,
	})
	if err != nil {
		return models.Patient{}, err
	}

	if idChanged {
		if err := s.renumber(ctx); err != nil {
			return models.Patient{}, err
		}
		patient, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return models.Patient{}, err
		}
	}

	s.publish(ctx, models.EventPatientUpdated, map[string]interface{}{"patient_id": patient.PatientID})
	return patient, nil
}

// Delete removes the patient, its stored radiograph, and the estimation log
// rows its codes anchor, then closes the identifier gap. Storage failure is
// a warning only: the database transaction never waits on the blob store.
func (s *Service) Delete(ctx context.Context, id int64) (models.DeletePatientResult, error) {
	patient, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return models.DeletePatientResult{}, err
	}

	result := models.DeletePatientResult{PatientID: patient.PatientID}

	if patient.OPGLink != "" {
		if err := s.store.Delete(ctx, storageKey(patient.OPGLink)); err != nil {
			metrics.IncStorageFailures()
			result.StorageWarning = err.Error()
			logger.Log.WithError(err).WithField("patient_id", patient.PatientID).Warn("failed to delete radiograph from storage")
		} else {
			result.StorageDeleted = true
		}
	}

	var codes []string
	if patient.CodeA != nil {
		codes = append(codes, *patient.CodeA)
	}
	if patient.CodeB != nil {
		codes = append(codes, *patient.CodeB)
	}
	purged, err := s.entries.PurgeByCodes(ctx, codes)
	if err != nil {
		return models.DeletePatientResult{}, err
	}
	result.EntriesRemoved = purged

	if err := s.repo.Delete(ctx, id); err != nil {
		return models.DeletePatientResult{}, err
	}

	if err := s.renumber(ctx); err != nil {
		return models.DeletePatientResult{}, err
	}

	s.publish(ctx, models.EventPatientDeleted, map[string]interface{}{
		"patient_id":      patient.PatientID,
		"entries_removed": purged,
	})
	s.observeCount(ctx)
	return result, nil
}

func (s *Service) Get(ctx context.Context, id int64) (models.Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, search string, limit, offset int) ([]models.Patient, int64, error) {
	return s.repo.List(ctx, search, limit, offset)
}

// AttachOPG uploads the radiograph bytes and records the returned URL on the
// patient. The record keeps its old link if the upload fails.
func (s *Service) AttachOPG(ctx context.Context, id int64, filename string, data []byte, contentType string) (string, error) {
	patient, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("%s_%s", patient.PatientID, sanitizeFilename(filename))
	url, err := s.store.Put(ctx, key, data, contentType)
	if err != nil {
		metrics.IncStorageFailures()
		return "", fmt.Errorf("radiograph upload failed: %w", err)
	}

	if err := s.repo.SetOPGLink(ctx, id, url); err != nil {
		return "", err
	}

	s.publish(ctx, models.EventPatientUpdated, map[string]interface{}{"patient_id": patient.PatientID})
	return url, nil
}

func (s *Service) Renumber(ctx context.Context) error {
	if err := s.renumber(ctx); err != nil {
		return err
	}
	s.publish(ctx, models.EventPatientsRenumbered, map[string]interface{}{})
	return nil
}

func (s *Service) renumber(ctx context.Context) error {
	if err := s.repo.Renumber(ctx); err != nil {
		return fmt.Errorf("renumbering failed, identifiers left unchanged: %w", err)
	}
	metrics.IncRenumberRuns()
	return nil
}

func (s *Service) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishEvent(ctx, eventType, "study-service", data); err != nil {
		logger.Log.WithError(err).WithField("event_type", eventType).Warn("failed to publish mutation event")
	}
}

func (s *Service) observeCount(ctx context.Context) {
	if count, err := s.repo.Count(ctx); err == nil {
		metrics.ObservePatientCount(count)
	}
}

// storageKey recovers the object key from a stored link. Links are either
// bare keys or URLs whose last path segment is the key.
func storageKey(link string) string {
	if !strings.Contains(link, "/") {
		return link
	}
	return path.Base(link)
}

func sanitizeFilename(name string) string {
	name = path.Base(name)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
