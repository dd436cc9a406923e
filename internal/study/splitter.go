// Package study rebalances oversized studies into batch studies and back.
//
// A split moves participants, together with all of their images, from a study
// into new studies named "{original}_batch_{n}". Merge moves them back, and
// delete-batches removes the emptied batch studies. Every operation runs in a
// single transaction, so a failure leaves the studies untouched.
package study

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"annotator/internal/logger"
	"annotator/internal/store"
	"annotator/pkg/models"
)

// Splitter performs structural changes on studies.
type Splitter struct {
	store *store.Store
	log   zerolog.Logger
}

// NewSplitter creates a splitter working on st.
func NewSplitter(st *store.Store) *Splitter {
	return &Splitter{store: st, log: logger.WithComponent("study")}
}

// BatchName returns the name of the n-th batch of a study.
func BatchName(original string, n int) string {
	return fmt.Sprintf("%s_batch_%d", original, n)
}

func batchPattern(original string) *regexp.Regexp {
	return regexp.MustCompile("^" + regexp.QuoteMeta(original) + `_batch_\d+$`)
}

// Split partitions the study's participants (by id) into chunks of batchSize
// and moves each chunk into a new batch study. A batch whose name already
// exists is skipped and its chunk stays in the original study. It returns the
// names of the created batch studies.
func (s *Splitter) Split(ctx context.Context, studyID uint, batchSize int) ([]string, error) {
	const op = "split"

	if batchSize <= 0 {
		return nil, structural(op, "", ErrInvalidBatchSize)
	}

	var created []string
	var studyName string
	err := s.store.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		original, err := loadStudy(tx, studyID)
		if err != nil {
			return structural(op, "", err)
		}
		studyName = original.Name

		var participants []models.Participant
		if err := tx.Where("study_id = ?", original.ID).Order("id").Find(&participants).Error; err != nil {
			return err
		}
		if len(participants) == 0 {
			return structural(op, original.Name, ErrNoParticipants)
		}

		for start, n := 0, 1; start < len(participants); start, n = start+batchSize, n+1 {
			chunk := participants[start:min(start+batchSize, len(participants))]
			name := BatchName(original.Name, n)

			var existing int64
			if err := tx.Model(&models.Study{}).Where("name = ?", name).Count(&existing).Error; err != nil {
				return err
			}
			if existing > 0 {
				s.log.Info().Str("batch", name).Msg("Batch study already exists, skipping")
				continue
			}

			batch := models.Study{Name: name, Description: fmt.Sprintf("Batch %d of %s", n, original.Name)}
			if err := tx.Create(&batch).Error; err != nil {
				return fmt.Errorf("create %s: %w", name, err)
			}
			if err := moveParticipants(tx, chunk, batch.ID); err != nil {
				return fmt.Errorf("move participants to %s: %w", name, err)
			}
			created = append(created, name)
		}
		return nil
	})
	if err != nil {
		return nil, structural(op, studyName, err)
	}

	s.log.Info().
		Uint("study_id", studyID).
		Int("batch_size", batchSize).
		Strs("created", created).
		Msg("Study split into batches")
	return created, nil
}

// Merge moves every participant and image of the study's batch studies back
// to the study. The emptied batch studies are kept. It returns the number of
// participants moved and the number of batch studies found.
func (s *Splitter) Merge(ctx context.Context, studyID uint) (participants int, batches int, err error) {
	const op = "merge"

	var studyName string
	err = s.store.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		original, err := loadStudy(tx, studyID)
		if err != nil {
			return structural(op, "", err)
		}
		studyName = original.Name

		batchStudies, err := findBatches(tx, original.Name)
		if err != nil {
			return err
		}
		if len(batchStudies) == 0 {
			return structural(op, original.Name, ErrNoBatches)
		}

		for _, batch := range batchStudies {
			var members []models.Participant
			if err := tx.Where("study_id = ?", batch.ID).Order("id").Find(&members).Error; err != nil {
				return err
			}
			if err := moveParticipants(tx, members, original.ID); err != nil {
				return fmt.Errorf("move participants from %s: %w", batch.Name, err)
			}
			participants += len(members)
		}
		batches = len(batchStudies)
		return nil
	})
	if err != nil {
		return 0, 0, structural(op, studyName, err)
	}

	s.log.Info().
		Uint("study_id", studyID).
		Int("participants", participants).
		Int("batches", batches).
		Msg("Batch studies merged")
	return participants, batches, nil
}

// DeleteEmptyBatches removes the study's batch studies. If any of them still
// owns participants or images nothing is deleted and the error names it.
func (s *Splitter) DeleteEmptyBatches(ctx context.Context, studyID uint) ([]string, error) {
	const op = "delete-batches"

	var deleted []string
	var studyName string
	err := s.store.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		original, err := loadStudy(tx, studyID)
		if err != nil {
			return structural(op, "", err)
		}
		studyName = original.Name

		batchStudies, err := findBatches(tx, original.Name)
		if err != nil {
			return err
		}
		if len(batchStudies) == 0 {
			return structural(op, original.Name, ErrNoBatches)
		}

		for _, batch := range batchStudies {
			var participantCount, imageCount int64
			if err := tx.Model(&models.Participant{}).Where("study_id = ?", batch.ID).Count(&participantCount).Error; err != nil {
				return err
			}
			if err := tx.Model(&models.Image{}).Where("study_id = ?", batch.ID).Count(&imageCount).Error; err != nil {
				return err
			}
			if participantCount > 0 || imageCount > 0 {
				return structural(op, batch.Name, ErrBatchNotEmpty)
			}
			if err := tx.Delete(&batch).Error; err != nil {
				return fmt.Errorf("delete %s: %w", batch.Name, err)
			}
			deleted = append(deleted, batch.Name)
		}
		return nil
	})
	if err != nil {
		return nil, structural(op, studyName, err)
	}

	s.log.Info().Uint("study_id", studyID).Strs("deleted", deleted).Msg("Batch studies deleted")
	return deleted, nil
}

func loadStudy(tx *gorm.DB, id uint) (*models.Study, error) {
	var st models.Study
	err := tx.First(&st, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrStudyNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// findBatches returns the batch studies of original, ordered by id. LIKE
// treats "_" as a wildcard, so candidates are filtered with an exact pattern.
func findBatches(tx *gorm.DB, original string) ([]models.Study, error) {
	var candidates []models.Study
	if err := tx.Where("name LIKE ?", original+"_batch_%").Order("id").Find(&candidates).Error; err != nil {
		return nil, err
	}

	pattern := batchPattern(original)
	batches := candidates[:0]
	for _, c := range candidates {
		if pattern.MatchString(c.Name) {
			batches = append(batches, c)
		}
	}
	return batches, nil
}

func moveParticipants(tx *gorm.DB, participants []models.Participant, studyID uint) error {
	if len(participants) == 0 {
		return nil
	}
	ids := make([]uint, len(participants))
	for i, p := range participants {
		ids[i] = p.ID
	}

	if err := tx.Model(&models.Participant{}).Where("id IN ?", ids).Update("study_id", studyID).Error; err != nil {
		return err
	}
	return tx.Model(&models.Image{}).Where("participant_id IN ?", ids).Update("study_id", studyID).Error
}
