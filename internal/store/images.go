package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"annotator/pkg/models"
)

// ErrImageNotFound is returned when an image id has no row.
var ErrImageNotFound = errors.New("image not found")

// AllImageIDs returns every image id in ascending order.
func (s *Store) AllImageIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	if err := s.WithContext(ctx).Model(&models.Image{}).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("store: list image ids: %w", err)
	}
	return ids, nil
}

// ProcessedImageIDs returns the distinct image ids that already have an OCR
// result row.
func (s *Store) ProcessedImageIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := s.WithContext(ctx).Model(&models.OCRResult{}).Distinct("image_id").Order("image_id").Pluck("image_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("store: list processed image ids: %w", err)
	}
	return ids, nil
}

// ImageIDsByStudy returns the ids of all images owned by a study.
func (s *Store) ImageIDsByStudy(ctx context.Context, studyID uint) ([]uint, error) {
	var ids []uint
	err := s.WithContext(ctx).Model(&models.Image{}).Where("study_id = ?", studyID).Order("id").Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("store: list images of study %d: %w", studyID, err)
	}
	return ids, nil
}

// ImageIDsForFirstParticipants returns, for every study, the image ids of its
// first limit participants (by id). It backs bounded staging runs.
func (s *Store) ImageIDsForFirstParticipants(ctx context.Context, limit int) ([]uint, error) {
	var studyIDs []uint
	if err := s.WithContext(ctx).Model(&models.Study{}).Order("id").Pluck("id", &studyIDs).Error; err != nil {
		return nil, fmt.Errorf("store: list studies: %w", err)
	}

	var ids []uint
	for _, studyID := range studyIDs {
		var participantIDs []uint
		err := s.WithContext(ctx).Model(&models.Participant{}).
			Where("study_id = ?", studyID).
			Order("id").
			Limit(limit).
			Pluck("id", &participantIDs).Error
		if err != nil {
			return nil, fmt.Errorf("store: list participants of study %d: %w", studyID, err)
		}
		if len(participantIDs) == 0 {
			continue
		}

		var imageIDs []uint
		err = s.WithContext(ctx).Model(&models.Image{}).
			Where("participant_id IN ?", participantIDs).
			Order("id").
			Pluck("id", &imageIDs).Error
		if err != nil {
			return nil, fmt.Errorf("store: list images of study %d: %w", studyID, err)
		}
		ids = append(ids, imageIDs...)
	}
	return ids, nil
}

// ImagesByIDs loads the images with the given ids. Unknown ids are skipped.
func (s *Store) ImagesByIDs(ctx context.Context, ids []uint) ([]models.Image, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var images []models.Image
	if err := s.WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&images).Error; err != nil {
		return nil, fmt.Errorf("store: load images: %w", err)
	}
	return images, nil
}

// ImageByID loads one image.
func (s *Store) ImageByID(ctx context.Context, id uint) (*models.Image, error) {
	var image models.Image
	err := s.WithContext(ctx).First(&image, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("store: image %d: %w", id, ErrImageNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: load image %d: %w", id, err)
	}
	return &image, nil
}

// ResultByImageID returns the OCR result of an image, or nil if the image has
// not been processed.
func (s *Store) ResultByImageID(ctx context.Context, imageID uint) (*models.OCRResult, error) {
	return FindResult(s.WithContext(ctx), imageID)
}

// FindResult loads the OCR result of an image through db, which may be a
// transaction. It returns nil when no row exists.
func FindResult(db *gorm.DB, imageID uint) (*models.OCRResult, error) {
	var results []models.OCRResult
	if err := db.Where("image_id = ?", imageID).Order("id").Limit(1).Find(&results).Error; err != nil {
		return nil, fmt.Errorf("store: load result of image %d: %w", imageID, err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}

// CountResults returns the number of OCR result rows for an image.
func (s *Store) CountResults(ctx context.Context, imageID uint) (int64, error) {
	var n int64
	err := s.WithContext(ctx).Model(&models.OCRResult{}).Where("image_id = ?", imageID).Count(&n).Error
	return n, err
}
