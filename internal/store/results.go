package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"annotator/pkg/models"
)

// ResultInput is one successful extraction waiting to be persisted.
type ResultInput struct {
	ImageID    uint
	Text       string
	Confidence float64
}

// SaveOptions carries the metadata stamped on every saved row.
type SaveOptions struct {
	Language          string
	Version           string
	PersistConfidence bool
}

// SaveBatch upserts one OCR result per input inside a single transaction.
// An existing row for the image is overwritten in place; otherwise a new row
// is inserted. On any error the whole batch is rolled back and 0 is returned.
func (s *Store) SaveBatch(ctx context.Context, inputs []ResultInput, opts SaveOptions) (int, error) {
	const op = "store.SaveBatch"

	if len(inputs) == 0 {
		return 0, nil
	}
	if opts.Language == "" {
		opts.Language = "eng"
	}

	inserted, updated := 0, 0
	err := s.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, in := range inputs {
			var confidence *float64
			if opts.PersistConfidence {
				c := in.Confidence
				confidence = &c
			}

			existing, err := FindResult(tx, in.ImageID)
			if err != nil {
				return err
			}

			if existing != nil {
				err := tx.Model(existing).Updates(map[string]interface{}{
					"text":       in.Text,
					"confidence": confidence,
					"language":   opts.Language,
					"version":    opts.Version,
					"updated_at": now,
				}).Error
				if err != nil {
					return fmt.Errorf("update result of image %d: %w", in.ImageID, err)
				}
				updated++
				continue
			}

			row := models.OCRResult{
				ImageID:    in.ImageID,
				Text:       in.Text,
				Confidence: confidence,
				Language:   opts.Language,
				Version:    opts.Version,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("insert result of image %d: %w", in.ImageID, err)
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		s.log.Error().
			Err(err).
			Int("batch_size", len(inputs)).
			Msg("OCR result batch rolled back")
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Debug().
		Int("inserted", inserted).
		Int("updated", updated).
		Msg("OCR result batch committed")
	return inserted + updated, nil
}
