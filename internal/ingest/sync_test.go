package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

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

func touch(t *testing.T, root string, parts ...string) {
	t.Helper()
	p := filepath.Join(append([]string{root, ImagesDir}, parts...)...)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte("\x89PNG"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSyncRegistersImagesOnce(t *testing.T) {
	s := openTestStore(t)
	root := t.TempDir()
	touch(t, root, "wave1", "P01", "a.png")
	touch(t, root, "wave1", "P01", "b.JPG")
	touch(t, root, "wave1", "P01", "notes.txt")
	touch(t, root, "wave1", "P02", "c.jpeg")
	touch(t, root, "wave2", "P01", "d.png")

	syncer := NewSyncer(s, root)
	res, err := syncer.Sync(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.NewImages != 4 || res.NewStudies != 2 || len(res.Errors) != 0 {
		t.Errorf("first sync = %+v", res)
	}

	var img models.Image
	if err := s.DB().Where("filename = ?", "a.png").First(&img).Error; err != nil {
		t.Fatal(err)
	}
	if img.Filepath != "images/wave1/P01/a.png" || img.Status != models.StatusPending {
		t.Errorf("image = %+v", img)
	}

	again, err := syncer.Sync(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if again.NewImages != 0 || again.NewStudies != 0 {
		t.Errorf("second sync = %+v, want nothing new", again)
	}
}

func TestSyncSingleStudy(t *testing.T) {
	s := openTestStore(t)
	root := t.TempDir()
	touch(t, root, "wave1", "P01", "a.png")
	touch(t, root, "wave2", "P01", "b.png")

	st := models.Study{Name: "wave2"}
	s.DB().Create(&st)

	res, err := NewSyncer(s, root).Sync(context.Background(), st.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.NewImages != 1 || res.NewStudies != 0 {
		t.Errorf("Sync() = %+v", res)
	}

	if _, err := NewSyncer(s, root).Sync(context.Background(), 999); !errors.Is(err, ErrStudyNotFound) {
		t.Errorf("err = %v, want ErrStudyNotFound", err)
	}
}

func TestSyncMissingStudyFolderIsReported(t *testing.T) {
	s := openTestStore(t)
	root := t.TempDir()
	touch(t, root, "wave1", "P01", "a.png")

	st := models.Study{Name: "ghost"}
	s.DB().Create(&st)

	res, err := NewSyncer(s, root).Sync(context.Background(), st.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Errors) != 1 || res.NewImages != 0 {
		t.Errorf("Sync() = %+v", res)
	}
}
