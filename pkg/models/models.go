package models

import "time"

// Review statuses shared by images and corrections.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// ValidStatus reports whether s is one of the review statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Study is a named collection of participants. Batch studies created by the
// splitter use the name pattern "{original}_batch_{n}".
type Study struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"size:120;not null;uniqueIndex" json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName explicitly sets the table name for GORM.
func (Study) TableName() string {
	return "studies"
}

type Participant struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	Name    string `gorm:"size:100" json:"name"`
	StudyID uint   `gorm:"not null;index" json:"study_id"`
}

func (Participant) TableName() string {
	return "participants"
}

// Image is an uploaded screenshot. Filepath is relative to one of the
// configured image roots.
type Image struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Filename      string    `gorm:"size:200;not null" json:"filename"`
	Filepath      string    `gorm:"size:500;not null" json:"filepath"`
	ParticipantID uint      `gorm:"not null;index" json:"participant_id"`
	StudyID       uint      `gorm:"not null;index" json:"study_id"`
	UploadTime    time.Time `gorm:"index" json:"upload_time"`
	Status        string    `gorm:"size:20;not null;default:pending" json:"status"`
}

func (Image) TableName() string {
	return "images"
}

// OCRResult holds the extracted text of one image. image_id is indexed but
// deliberately not unique; the result store keeps one row per image itself.
type OCRResult struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ImageID    uint      `gorm:"not null;index" json:"image_id"`
	Text       string    `gorm:"not null" json:"text"`
	Confidence *float64  `json:"confidence,omitempty"` // NULL when confidence is not persisted
	Language   string    `gorm:"size:10;default:eng" json:"language"`
	Version    string    `gorm:"size:20" json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (OCRResult) TableName() string {
	return "ocr_results"
}

// Correction is one append-only reviewer edit. The current correction of an
// image is the most recent one.
type Correction struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ImageID       uint      `gorm:"not null;index" json:"image_id"`
	OCRResultID   *uint     `json:"ocr_result_id,omitempty"`
	OriginalText  string    `json:"original_text"`
	CorrectedText string    `gorm:"not null" json:"corrected_text"`
	Status        string    `gorm:"size:20;not null" json:"status"`
	UserID        uint      `gorm:"not null;index" json:"user_id"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
}

func (Correction) TableName() string {
	return "corrections"
}
