package review

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"annotator/internal/store"
	"annotator/internal/suggestions"
	"annotator/pkg/models"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedParticipant creates study "wave1" with participant "P01" owning n
// images uploaded one minute apart, newest first in id order.
func seedParticipant(t *testing.T, s *store.Store, n int) []uint {
	t.Helper()
	db := s.DB()

	st := models.Study{Name: "wave1"}
	if err := db.Create(&st).Error; err != nil {
		t.Fatal(err)
	}
	p := models.Participant{Name: "P01", StudyID: st.ID}
	if err := db.Create(&p).Error; err != nil {
		t.Fatal(err)
	}

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var ids []uint
	for i := 0; i < n; i++ {
		img := models.Image{
			Filename:      "shot.png",
			Filepath:      "wave1/P01/shot.png",
			ParticipantID: p.ID,
			StudyID:       st.ID,
			UploadTime:    base.Add(time.Duration(n-i) * time.Minute),
			Status:        models.StatusPending,
		}
		if err := db.Create(&img).Error; err != nil {
			t.Fatal(err)
		}
		ids = append(ids, img.ID)
	}
	return ids
}

func saveOCR(t *testing.T, s *store.Store, imageID uint, text string) {
	t.Helper()
	_, err := s.SaveBatch(context.Background(), []store.ResultInput{{ImageID: imageID, Text: text, Confidence: 90}},
		store.SaveOptions{Version: "5.3.0", PersistConfidence: true})
	if err != nil {
		t.Fatal(err)
	}
}

type failingDictionary struct{ learned int }

func (d *failingDictionary) Load() ([]string, error) { return nil, errors.New("unreadable") }
func (d *failingDictionary) Learn(string) ([]string, error) {
	d.learned++
	return nil, errors.New("read-only file system")
}

func TestCurrentTextFallbacks(t *testing.T) {
	s := openTestStore(t)
	ids := seedParticipant(t, s, 1)
	r := NewReconciler(s, nil, false)
	ctx := context.Background()

	if got, err := r.CurrentText(ctx, ids[0]); err != nil || got != "" {
		t.Errorf("no OCR: CurrentText() = %q, %v; want empty", got, err)
	}

	saveOCR(t, s, ids[0], "Instagram\n45m")
	if got, _ := r.CurrentText(ctx, ids[0]); got != "Instagram\n45m" {
		t.Errorf("OCR only: CurrentText() = %q", got)
	}

	for _, text := range []string{"instagram,40m", "instagram,45m"} {
		if _, err := r.SubmitCorrection(ctx, Submission{ImageID: ids[0], CorrectedText: text, Status: models.StatusApproved, ReviewerID: 7}); err != nil {
			t.Fatal(err)
		}
	}
	if got, _ := r.CurrentText(ctx, ids[0]); got != "instagram,45m" {
		t.Errorf("corrected: CurrentText() = %q, want latest correction", got)
	}

	if _, err := r.CurrentText(ctx, 999); !errors.Is(err, store.ErrImageNotFound) {
		t.Errorf("unknown image: err = %v", err)
	}
}

func TestCurrentTextNormalized(t *testing.T) {
	s := openTestStore(t)
	ids := seedParticipant(t, s, 1)
	saveOCR(t, s, ids[0], "12:41\nBattery\nInstagram\nSettings")

	dict := suggestions.New(filepath.Join(t.TempDir(), "apps.json"))
	r := NewReconciler(s, dict, true)

	got, err := r.CurrentText(context.Background(), ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if got != "12:41\nInstagram" {
		t.Errorf("CurrentText() = %q", got)
	}
}

func TestSubmitCorrectionSnapshotsOCR(t *testing.T) {
	s := openTestStore(t)
	ids := seedParticipant(t, s, 1)
	saveOCR(t, s, ids[0], "first run")
	r := NewReconciler(s, nil, false)
	ctx := context.Background()

	c, err := r.SubmitCorrection(ctx, Submission{ImageID: ids[0], CorrectedText: "tiktok,1h", Status: models.StatusApproved, ReviewerID: 3})
	if err != nil {
		t.Fatal(err)
	}
	if c.OriginalText != "first run" || c.OCRResultID == nil {
		t.Errorf("correction = %+v", c)
	}

	saveOCR(t, s, ids[0], "second run")

	history, err := r.History(ctx, ids[0])
	if err != nil || len(history) != 1 {
		t.Fatalf("History() = %v, %v", history, err)
	}
	if history[0].OriginalText != "first run" {
		t.Errorf("snapshot changed to %q", history[0].OriginalText)
	}

	img, _ := s.ImageByID(ctx, ids[0])
	if img.Status != models.StatusApproved {
		t.Errorf("image status = %q, want approved", img.Status)
	}
}

func TestSubmitCorrectionWithoutOCR(t *testing.T) {
	s := openTestStore(t)
	ids := seedParticipant(t, s, 1)
	r := NewReconciler(s, nil, false)

	c, err := r.SubmitCorrection(context.Background(), Submission{ImageID: ids[0], CorrectedText: RejectionText, Status: models.StatusRejected})
	if err != nil {
		t.Fatal(err)
	}
	if c.OCRResultID != nil || c.OriginalText != "" {
		t.Errorf("correction = %+v, want no OCR reference", c)
	}
}

func TestSubmitCorrectionRejectsInvalid(t *testing.T) {
	s := openTestStore(t)
	ids := seedParticipant(t, s, 1)
	r := NewReconciler(s, nil, false)
	ctx := context.Background()

	_, err := r.SubmitCorrection(ctx, Submission{ImageID: ids[0], CorrectedText: "facebook,", Status: models.StatusApproved})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("err = %v, want *ValidationError", err)
	}

	_, err = r.SubmitCorrection(ctx, Submission{ImageID: ids[0], CorrectedText: "facebook", Status: "done"})
	if !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("err = %v, want ErrInvalidStatus", err)
	}

	_, err = r.SubmitCorrection(ctx, Submission{ImageID: 999, CorrectedText: "facebook"})
	if !errors.Is(err, store.ErrImageNotFound) {
		t.Errorf("err = %v, want ErrImageNotFound", err)
	}

	history, _ := r.History(ctx, ids[0])
	img, _ := s.ImageByID(ctx, ids[0])
	if len(history) != 0 || img.Status != models.StatusPending {
		t.Errorf("rejected submissions wrote state: %d corrections, status %q", len(history), img.Status)
	}
}

func TestSubmitCorrectionSurvivesDictionaryFailure(t *testing.T) {
	s := openTestStore(t)
	ids := seedParticipant(t, s, 1)
	dict := &failingDictionary{}
	r := NewReconciler(s, dict, false)

	if _, err := r.SubmitCorrection(context.Background(), Submission{ImageID: ids[0], CorrectedText: "duolingo,5m", Status: models.StatusApproved}); err != nil {
		t.Fatalf("SubmitCorrection() error = %v", err)
	}
	if dict.learned != 1 {
		t.Errorf("Learn called %d times, want 1", dict.learned)
	}
}

func TestSubmitCorrectionLearnsApps(t *testing.T) {
	s := openTestStore(t)
	ids := seedParticipant(t, s, 1)
	dict := suggestions.New(filepath.Join(t.TempDir(), "apps.json"))
	r := NewReconciler(s, dict, false)

	if _, err := r.SubmitCorrection(context.Background(), Submission{ImageID: ids[0], CorrectedText: "duolingo,5m", Status: models.StatusApproved}); err != nil {
		t.Fatal(err)
	}
	got, _ := dict.Search("duo")
	if len(got) != 1 || got[0] != "Duolingo" {
		t.Errorf("Search(duo) = %v", got)
	}
}

func TestQueueOrdersByUploadTime(t *testing.T) {
	s := openTestStore(t)
	ids := seedParticipant(t, s, 3)
	r := NewReconciler(s, nil, false)
	ctx := context.Background()

	if _, err := r.SubmitCorrection(ctx, Submission{ImageID: ids[1], CorrectedText: "x", Status: models.StatusApproved}); err != nil {
		t.Fatal(err)
	}

	queue, err := r.Queue(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(queue) != 2 || queue[0].ID != ids[2] || queue[1].ID != ids[0] {
		t.Errorf("Queue() ids = %v, want [%d %d]", imageIDs(queue), ids[2], ids[0])
	}

	limited, _ := r.Queue(ctx, 1)
	if len(limited) != 1 {
		t.Errorf("Queue(1) returned %d images", len(limited))
	}
}

func TestParticipantSheet(t *testing.T) {
	s := openTestStore(t)
	ids := seedParticipant(t, s, 3)
	r := NewReconciler(s, nil, false)
	ctx := context.Background()

	saveOCR(t, s, ids[0], "youtube 2h")
	saveOCR(t, s, ids[1], "netflix 1h")
	if _, err := r.SubmitCorrection(ctx, Submission{ImageID: ids[1], CorrectedText: "netflix,1h", Status: models.StatusApproved}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.SubmitCorrection(ctx, Submission{ImageID: ids[2], CorrectedText: RejectionText, Status: models.StatusRejected}); err != nil {
		t.Fatal(err)
	}

	sheet, err := r.ParticipantSheet(ctx, "wave1", "P01")
	if err != nil {
		t.Fatal(err)
	}
	if sheet.Approved != 1 || sheet.Rejected != 1 || sheet.Pending != 1 {
		t.Errorf("counts = %d/%d/%d", sheet.Approved, sheet.Rejected, sheet.Pending)
	}
	if len(sheet.Entries) != 3 {
		t.Fatalf("%d entries, want 3", len(sheet.Entries))
	}
	// Uploads run newest-first by id, so the sheet is reversed.
	byID := map[uint]SheetEntry{}
	for _, e := range sheet.Entries {
		byID[e.ImageID] = e
	}
	if sheet.Entries[0].ImageID != ids[2] {
		t.Errorf("first entry is image %d, want %d", sheet.Entries[0].ImageID, ids[2])
	}
	if e := byID[ids[0]]; e.CurrentText != "youtube 2h" || e.OCRResultID == nil {
		t.Errorf("uncorrected entry = %+v", e)
	}
	if e := byID[ids[1]]; e.CurrentText != "netflix,1h" || e.OCRText != "netflix 1h" {
		t.Errorf("corrected entry = %+v", e)
	}
	if e := byID[ids[2]]; e.OCRResultID != nil || e.CurrentText != RejectionText {
		t.Errorf("rejected entry = %+v", e)
	}

	if _, err := r.ParticipantSheet(ctx, "wave1", "P99"); !errors.Is(err, ErrParticipantNotFound) {
		t.Errorf("err = %v, want ErrParticipantNotFound", err)
	}
}

func imageIDs(images []models.Image) []uint {
	out := make([]uint, len(images))
	for i, img := range images {
		out[i] = img.ID
	}
	return out
}
