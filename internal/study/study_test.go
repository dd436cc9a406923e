package study

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"annotator/internal/store"
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

// seedStudy creates a study with n participants owning two images each.
func seedStudy(t *testing.T, s *store.Store, name string, n int) uint {
	t.Helper()
	db := s.DB()

	st := models.Study{Name: name}
	if err := db.Create(&st).Error; err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		p := models.Participant{Name: fmt.Sprintf("p%02d", i), StudyID: st.ID}
		if err := db.Create(&p).Error; err != nil {
			t.Fatal(err)
		}
		for j := 0; j < 2; j++ {
			img := models.Image{
				Filename:      fmt.Sprintf("%d.png", j),
				Filepath:      fmt.Sprintf("%s/%s/%d.png", name, p.Name, j),
				ParticipantID: p.ID,
				StudyID:       st.ID,
				UploadTime:    time.Now(),
				Status:        models.StatusPending,
			}
			if err := db.Create(&img).Error; err != nil {
				t.Fatal(err)
			}
		}
	}
	return st.ID
}

func count(t *testing.T, s *store.Store, model any, studyID uint) int64 {
	t.Helper()
	var n int64
	if err := s.DB().Model(model).Where("study_id = ?", studyID).Count(&n).Error; err != nil {
		t.Fatal(err)
	}
	return n
}

func studyID(t *testing.T, s *store.Store, name string) uint {
	t.Helper()
	var st models.Study
	if err := s.DB().Where("name = ?", name).First(&st).Error; err != nil {
		t.Fatalf("study %q: %v", name, err)
	}
	return st.ID
}

func TestSplitConservesParticipants(t *testing.T) {
	s := openTestStore(t)
	id := seedStudy(t, s, "wave1", 7)
	sp := NewSplitter(s)

	created, err := sp.Split(context.Background(), id, 3)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	want := []string{"wave1_batch_1", "wave1_batch_2", "wave1_batch_3"}
	if fmt.Sprint(created) != fmt.Sprint(want) {
		t.Fatalf("created = %v, want %v", created, want)
	}

	var participants, images int64
	for i, name := range created {
		bid := studyID(t, s, name)
		p := count(t, s, &models.Participant{}, bid)
		participants += p
		images += count(t, s, &models.Image{}, bid)
		if wantP := []int64{3, 3, 1}[i]; p != wantP {
			t.Errorf("%s has %d participants, want %d", name, p, wantP)
		}
	}
	if participants != 7 || images != 14 {
		t.Errorf("batches hold %d participants / %d images, want 7 / 14", participants, images)
	}
	if n := count(t, s, &models.Participant{}, id); n != 0 {
		t.Errorf("original keeps %d participants, want 0", n)
	}
	if n := count(t, s, &models.Image{}, id); n != 0 {
		t.Errorf("original keeps %d images, want 0", n)
	}
}

func TestSplitSkipsExistingBatch(t *testing.T) {
	s := openTestStore(t)
	id := seedStudy(t, s, "wave1", 4)
	if err := s.DB().Create(&models.Study{Name: "wave1_batch_1"}).Error; err != nil {
		t.Fatal(err)
	}

	created, err := NewSplitter(s).Split(context.Background(), id, 2)
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(created) != "[wave1_batch_2]" {
		t.Errorf("created = %v, want [wave1_batch_2]", created)
	}
	if n := count(t, s, &models.Participant{}, id); n != 2 {
		t.Errorf("original keeps %d participants, want 2", n)
	}
}

func TestMergeIsInverseOfSplit(t *testing.T) {
	s := openTestStore(t)
	id := seedStudy(t, s, "wave1", 5)
	sp := NewSplitter(s)
	ctx := context.Background()

	created, err := sp.Split(ctx, id, 2)
	if err != nil {
		t.Fatal(err)
	}

	participants, batches, err := sp.Merge(ctx, id)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if participants != 5 || batches != len(created) {
		t.Errorf("Merge() = %d, %d; want 5, %d", participants, batches, len(created))
	}
	if n := count(t, s, &models.Participant{}, id); n != 5 {
		t.Errorf("original has %d participants, want 5", n)
	}
	if n := count(t, s, &models.Image{}, id); n != 10 {
		t.Errorf("original has %d images, want 10", n)
	}
	for _, name := range created {
		if n := count(t, s, &models.Participant{}, studyID(t, s, name)); n != 0 {
			t.Errorf("%s keeps %d participants", name, n)
		}
	}

	deleted, err := sp.DeleteEmptyBatches(ctx, id)
	if err != nil {
		t.Fatalf("DeleteEmptyBatches() error = %v", err)
	}
	if len(deleted) != len(created) {
		t.Errorf("deleted %v, want %v", deleted, created)
	}
}

func TestMergeIgnoresLookalikeStudies(t *testing.T) {
	s := openTestStore(t)
	id := seedStudy(t, s, "a", 2)
	// "_" is a LIKE wildcard; "aXbatch_1" must not be merged.
	other := seedStudy(t, s, "aXbatch_1", 1)
	sp := NewSplitter(s)

	if _, err := sp.Split(context.Background(), id, 1); err != nil {
		t.Fatal(err)
	}
	participants, batches, err := sp.Merge(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if participants != 2 || batches != 2 {
		t.Errorf("Merge() = %d, %d; want 2, 2", participants, batches)
	}
	if n := count(t, s, &models.Participant{}, other); n != 1 {
		t.Errorf("lookalike study has %d participants, want 1", n)
	}
}

func TestDeleteNonEmptyBatchAborts(t *testing.T) {
	s := openTestStore(t)
	id := seedStudy(t, s, "wave1", 4)
	sp := NewSplitter(s)
	ctx := context.Background()

	if _, err := sp.Split(ctx, id, 2); err != nil {
		t.Fatal(err)
	}

	_, err := sp.DeleteEmptyBatches(ctx, id)
	var se *StructuralError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StructuralError", err)
	}
	if !errors.Is(err, ErrBatchNotEmpty) || se.Study != "wave1_batch_1" {
		t.Errorf("error = %v (study %q)", err, se.Study)
	}

	var n int64
	s.DB().Model(&models.Study{}).Count(&n)
	if n != 3 {
		t.Errorf("%d studies remain, want 3", n)
	}
}

func TestDeleteBatchesRollsBackEarlierDeletes(t *testing.T) {
	s := openTestStore(t)
	id := seedStudy(t, s, "w", 4)
	sp := NewSplitter(s)
	ctx := context.Background()

	if _, err := sp.Split(ctx, id, 2); err != nil {
		t.Fatal(err)
	}
	// Empty only the first batch.
	first := studyID(t, s, "w_batch_1")
	s.DB().Model(&models.Participant{}).Where("study_id = ?", first).Update("study_id", id)
	s.DB().Model(&models.Image{}).Where("study_id = ?", first).Update("study_id", id)

	_, err := sp.DeleteEmptyBatches(ctx, id)
	var se *StructuralError
	if !errors.As(err, &se) || se.Study != "w_batch_2" {
		t.Fatalf("error = %v, want structural error naming w_batch_2", err)
	}

	var n int64
	s.DB().Model(&models.Study{}).Where("name = ?", "w_batch_1").Count(&n)
	if n != 1 {
		t.Errorf("w_batch_1 was deleted by an aborted operation")
	}
}

func TestSplitFailureLeavesStudyUntouched(t *testing.T) {
	s := openTestStore(t)
	id := seedStudy(t, s, "w", 5)

	errBoom := errors.New("database is locked")
	err := s.DB().Callback().Create().Before("gorm:create").Register("test:fail_second_batch", func(db *gorm.DB) {
		if st, ok := db.Statement.Dest.(*models.Study); ok && strings.HasSuffix(st.Name, "_batch_2") {
			db.AddError(errBoom)
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	created, err := NewSplitter(s).Split(context.Background(), id, 2)
	if !errors.Is(err, errBoom) {
		t.Fatalf("Split() = %v, %v; want %v", created, err, errBoom)
	}
	var se *StructuralError
	if !errors.As(err, &se) || se.Study != "w" {
		t.Errorf("error = %v, want structural error naming w", err)
	}

	var studies int64
	s.DB().Model(&models.Study{}).Count(&studies)
	if studies != 1 {
		t.Errorf("%d studies exist, want only the original", studies)
	}
	if n := count(t, s, &models.Participant{}, id); n != 5 {
		t.Errorf("original has %d participants, want 5", n)
	}
	if n := count(t, s, &models.Image{}, id); n != 10 {
		t.Errorf("original has %d images, want 10", n)
	}
}

func TestStructuralErrors(t *testing.T) {
	s := openTestStore(t)
	empty := seedStudy(t, s, "empty", 0)
	sp := NewSplitter(s)
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"split no participants", func() error { _, err := sp.Split(ctx, empty, 2); return err }, ErrNoParticipants},
		{"split bad size", func() error { _, err := sp.Split(ctx, empty, 0); return err }, ErrInvalidBatchSize},
		{"split unknown study", func() error { _, err := sp.Split(ctx, 999, 2); return err }, ErrStudyNotFound},
		{"merge no batches", func() error { _, _, err := sp.Merge(ctx, empty); return err }, ErrNoBatches},
		{"delete no batches", func() error { _, err := sp.DeleteEmptyBatches(ctx, empty); return err }, ErrNoBatches},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			var se *StructuralError
			if !errors.As(err, &se) {
				t.Errorf("error %v is not a *StructuralError", err)
			}
		})
	}
}

func TestGetProgress(t *testing.T) {
	s := openTestStore(t)
	id := seedStudy(t, s, "wave1", 3)
	s.DB().Model(&models.Image{}).Where("study_id = ? AND filename = ?", id, "0.png").Update("status", models.StatusApproved)
	s.DB().Model(&models.Image{}).Where("study_id = ? AND id = (SELECT MAX(id) FROM images)", id).Update("status", models.StatusRejected)

	p, err := GetProgress(context.Background(), s, id)
	if err != nil {
		t.Fatal(err)
	}
	if p.Images != 6 || p.Approved != 3 || p.Rejected != 1 || p.Percent != 50 {
		t.Errorf("GetProgress() = %+v", p)
	}
}

func ExampleBatchName() {
	fmt.Println(BatchName("wave1", 3))
	// Output: wave1_batch_3
}
