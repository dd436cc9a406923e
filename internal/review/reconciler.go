// Package review reconciles reviewer corrections with OCR output.
//
// The text a reviewer starts from is the latest correction of an image, or
// the OCR text when nobody has corrected it yet. Corrections are append-only:
// each submission snapshots the OCR text it was made against, so later OCR
// re-runs never change what a reviewer was shown.
package review

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"annotator/internal/logger"
	"annotator/internal/store"
	"annotator/pkg/models"
)

var (
	ErrInvalidStatus       = errors.New("invalid review status")
	ErrParticipantNotFound = errors.New("participant not found")
)

// Dictionary is the app-name suggestion list fed by submissions.
type Dictionary interface {
	Load() ([]string, error)
	Learn(correctedText string) ([]string, error)
}

// Submission is one reviewer action on an image.
type Submission struct {
	ImageID       uint
	CorrectedText string
	Status        string
	ReviewerID    uint
}

// Reconciler reads and writes reviewer corrections against the store.
type Reconciler struct {
	store        *store.Store
	dictionary   Dictionary
	normalizeOCR bool
	log          zerolog.Logger
}

// NewReconciler creates a reconciler. dictionary may be nil. With
// normalizeOCR the OCR fallback text is passed through CleanOCRText.
func NewReconciler(st *store.Store, dictionary Dictionary, normalizeOCR bool) *Reconciler {
	return &Reconciler{
		store:        st,
		dictionary:   dictionary,
		normalizeOCR: normalizeOCR,
		log:          logger.WithComponent("review"),
	}
}

// CurrentText returns the text a reviewer should start from: the latest
// correction, else the OCR text, else "".
func (r *Reconciler) CurrentText(ctx context.Context, imageID uint) (string, error) {
	db := r.store.WithContext(ctx)

	if _, err := r.store.ImageByID(ctx, imageID); err != nil {
		return "", err
	}

	latest, err := latestCorrections(db, []uint{imageID})
	if err != nil {
		return "", err
	}
	if c, ok := latest[imageID]; ok {
		return c.CorrectedText, nil
	}

	result, err := store.FindResult(db, imageID)
	if err != nil || result == nil {
		return "", err
	}
	return r.ocrFallback(result.Text), nil
}

func (r *Reconciler) ocrFallback(text string) string {
	if !r.normalizeOCR || text == "" {
		return text
	}
	apps, err := r.apps()
	if err != nil {
		r.log.Warn().Err(err).Msg("Could not load app suggestions, showing raw OCR text")
		return text
	}
	return CleanOCRText(text, apps)
}

func (r *Reconciler) apps() ([]string, error) {
	if r.dictionary == nil {
		return nil, nil
	}
	return r.dictionary.Load()
}

// SubmitCorrection validates and appends a correction and sets the image's
// review status, in one transaction. Feeding the suggestion dictionary
// afterwards is best effort and never fails the submission.
func (r *Reconciler) SubmitCorrection(ctx context.Context, sub Submission) (*models.Correction, error) {
	const op = "review.SubmitCorrection"

	if sub.Status == "" {
		sub.Status = models.StatusPending
	}
	if !models.ValidStatus(sub.Status) {
		return nil, fmt.Errorf("%s: %w: %q", op, ErrInvalidStatus, sub.Status)
	}
	if err := Validate(sub.CorrectedText); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var correction models.Correction
	err := r.store.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var image models.Image
		if err := tx.First(&image, sub.ImageID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("image %d: %w", sub.ImageID, store.ErrImageNotFound)
			}
			return err
		}

		result, err := store.FindResult(tx, image.ID)
		if err != nil {
			return err
		}

		correction = models.Correction{
			ImageID:       image.ID,
			CorrectedText: sub.CorrectedText,
			Status:        sub.Status,
			UserID:        sub.ReviewerID,
		}
		if result != nil {
			id := result.ID
			correction.OCRResultID = &id
			correction.OriginalText = result.Text
		}

		if err := tx.Create(&correction).Error; err != nil {
			return fmt.Errorf("insert correction: %w", err)
		}
		return tx.Model(&image).Update("status", sub.Status).Error
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log := logger.WithReviewer("review", sub.ReviewerID)
	log.Info().
		Uint("image_id", sub.ImageID).
		Str("status", sub.Status).
		Msg("Correction submitted")

	if r.dictionary != nil {
		if added, err := r.dictionary.Learn(sub.CorrectedText); err != nil {
			log.Warn().Err(err).Msg("Failed to update app suggestions")
		} else if len(added) > 0 {
			log.Debug().Strs("apps", added).Msg("Learned app suggestions")
		}
	}

	return &correction, nil
}

// History returns all corrections of an image, newest first.
func (r *Reconciler) History(ctx context.Context, imageID uint) ([]models.Correction, error) {
	var corrections []models.Correction
	err := r.store.WithContext(ctx).
		Where("image_id = ?", imageID).
		Order("created_at DESC, id DESC").
		Find(&corrections).Error
	if err != nil {
		return nil, fmt.Errorf("review: load corrections of image %d: %w", imageID, err)
	}
	return corrections, nil
}

// latestCorrections maps each image id to its most recent correction.
func latestCorrections(db *gorm.DB, imageIDs []uint) (map[uint]models.Correction, error) {
	out := make(map[uint]models.Correction, len(imageIDs))
	if len(imageIDs) == 0 {
		return out, nil
	}

	var corrections []models.Correction
	err := db.Where("image_id IN ?", imageIDs).Order("created_at DESC, id DESC").Find(&corrections).Error
	if err != nil {
		return nil, fmt.Errorf("review: load corrections: %w", err)
	}
	for _, c := range corrections {
		if _, ok := out[c.ImageID]; !ok {
			out[c.ImageID] = c
		}
	}
	return out, nil
}
