package study

import (
	"context"
	"fmt"
	"math"

	"annotator/internal/store"
	"annotator/pkg/models"
)

// Progress is the review progress of one study.
type Progress struct {
	StudyID  uint    `json:"study_id"`
	Name     string  `json:"name"`
	Images   int64   `json:"images"`
	Approved int64   `json:"approved"`
	Rejected int64   `json:"rejected"`
	Percent  float64 `json:"percent"`
}

// GetProgress counts the study's images and how many were approved. Percent
// is approved over total, rounded to one decimal, and 0 for an empty study.
func GetProgress(ctx context.Context, st *store.Store, studyID uint) (*Progress, error) {
	db := st.WithContext(ctx)

	s, err := loadStudy(db, studyID)
	if err != nil {
		return nil, fmt.Errorf("study progress: %w", err)
	}

	p := &Progress{StudyID: s.ID, Name: s.Name}
	if err := db.Model(&models.Image{}).Where("study_id = ?", s.ID).Count(&p.Images).Error; err != nil {
		return nil, fmt.Errorf("study progress: %w", err)
	}
	if err := db.Model(&models.Image{}).Where("study_id = ? AND status = ?", s.ID, models.StatusApproved).Count(&p.Approved).Error; err != nil {
		return nil, fmt.Errorf("study progress: %w", err)
	}
	if err := db.Model(&models.Image{}).Where("study_id = ? AND status = ?", s.ID, models.StatusRejected).Count(&p.Rejected).Error; err != nil {
		return nil, fmt.Errorf("study progress: %w", err)
	}
	if p.Images > 0 {
		p.Percent = math.Round(float64(p.Approved)/float64(p.Images)*1000) / 10
	}
	return p, nil
}
