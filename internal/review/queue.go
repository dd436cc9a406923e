package review

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"annotator/pkg/models"
)

// Queue returns pending images, oldest upload first. limit <= 0 returns all.
func (r *Reconciler) Queue(ctx context.Context, limit int) ([]models.Image, error) {
	q := r.store.WithContext(ctx).
		Where("status = ?", models.StatusPending).
		Order("upload_time ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var images []models.Image
	if err := q.Find(&images).Error; err != nil {
		return nil, fmt.Errorf("review: load queue: %w", err)
	}
	return images, nil
}

// SheetEntry is one image row of a participant review sheet.
type SheetEntry struct {
	ImageID     uint   `json:"image_id"`
	Filepath    string `json:"filepath"`
	Status      string `json:"status"`
	OCRText     string `json:"ocr_text"`
	OCRResultID *uint  `json:"ocr_result_id,omitempty"`
	CurrentText string `json:"current_text"`
}

// Sheet is everything a reviewer sees for one participant.
type Sheet struct {
	Study       string       `json:"study"`
	Participant string       `json:"participant"`
	Entries     []SheetEntry `json:"entries"`
	Approved    int          `json:"approved"`
	Rejected    int          `json:"rejected"`
	Pending     int          `json:"pending"`
}

// ParticipantSheet loads a participant's images by upload time, each with its
// OCR text and current text, plus status counts.
func (r *Reconciler) ParticipantSheet(ctx context.Context, studyName, participantName string) (*Sheet, error) {
	db := r.store.WithContext(ctx)

	var participant models.Participant
	err := db.Joins("JOIN studies ON studies.id = participants.study_id").
		Where("studies.name = ? AND participants.name = ?", studyName, participantName).
		First(&participant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("review: %s/%s: %w", studyName, participantName, ErrParticipantNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("review: load participant: %w", err)
	}

	var images []models.Image
	if err := db.Where("participant_id = ?", participant.ID).Order("upload_time ASC, id ASC").Find(&images).Error; err != nil {
		return nil, fmt.Errorf("review: load images: %w", err)
	}

	ids := make([]uint, len(images))
	for i, img := range images {
		ids[i] = img.ID
	}

	latest, err := latestCorrections(db, ids)
	if err != nil {
		return nil, err
	}
	results, err := resultsByImage(db, ids)
	if err != nil {
		return nil, err
	}

	sheet := &Sheet{Study: studyName, Participant: participantName, Entries: make([]SheetEntry, 0, len(images))}
	for _, img := range images {
		entry := SheetEntry{ImageID: img.ID, Filepath: img.Filepath, Status: img.Status}
		if res, ok := results[img.ID]; ok {
			id := res.ID
			entry.OCRText = res.Text
			entry.OCRResultID = &id
		}
		if c, ok := latest[img.ID]; ok {
			entry.CurrentText = c.CorrectedText
		} else {
			entry.CurrentText = r.ocrFallback(entry.OCRText)
		}
		sheet.Entries = append(sheet.Entries, entry)

		switch img.Status {
		case models.StatusApproved:
			sheet.Approved++
		case models.StatusRejected:
			sheet.Rejected++
		default:
			sheet.Pending++
		}
	}
	return sheet, nil
}

// resultsByImage maps image ids to their OCR result, keeping the oldest row
// if duplicates ever exist.
func resultsByImage(db *gorm.DB, imageIDs []uint) (map[uint]models.OCRResult, error) {
	out := make(map[uint]models.OCRResult, len(imageIDs))
	if len(imageIDs) == 0 {
		return out, nil
	}

	var results []models.OCRResult
	if err := db.Where("image_id IN ?", imageIDs).Order("id").Find(&results).Error; err != nil {
		return nil, fmt.Errorf("review: load OCR results: %w", err)
	}
	for _, res := range results {
		if _, ok := out[res.ImageID]; !ok {
			out[res.ImageID] = res
		}
	}
	return out, nil
}
