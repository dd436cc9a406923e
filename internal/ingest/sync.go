// Package ingest registers screenshots found on the local image root.
//
// Files are expected at <root>/images/<study>/<participant>/<file> with a
// .png, .jpg or .jpeg extension. Studies and participants are created on
// first sight; images are added once with status pending and a filepath
// relative to the root, which is what the OCR path resolver expects.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"annotator/internal/logger"
	"annotator/internal/store"
	"annotator/pkg/models"
)

// ImagesDir is the directory under the root holding study folders.
const ImagesDir = "images"

var ErrStudyNotFound = errors.New("study not found")

var imageExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// Result reports what a sync added. Errors holds one message per entry that
// could not be registered; they never abort the sync.
type Result struct {
	NewImages  int      `json:"new_images"`
	NewStudies int      `json:"new_studies"`
	Errors     []string `json:"errors"`
}

type Syncer struct {
	store *store.Store
	root  string
	log   zerolog.Logger
}

// NewSyncer creates a syncer reading from root.
func NewSyncer(st *store.Store, root string) *Syncer {
	return &Syncer{store: st, root: root, log: logger.WithComponent("ingest")}
}

// Sync walks the image tree. With studyID set only that study's folder is
// read.
func (s *Syncer) Sync(ctx context.Context, studyID uint) (*Result, error) {
	base := filepath.Join(s.root, ImagesDir)
	res := &Result{}

	var studyNames []string
	if studyID != 0 {
		var st models.Study
		err := s.store.WithContext(ctx).First(&st, studyID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("ingest: %w: id %d", ErrStudyNotFound, studyID)
		}
		if err != nil {
			return nil, fmt.Errorf("ingest: %w", err)
		}
		studyNames = []string{st.Name}
	} else {
		dirs, err := subdirs(base)
		if err != nil {
			return nil, fmt.Errorf("ingest: list %s: %w", base, err)
		}
		studyNames = dirs
	}

	s.log.Info().Str("root", base).Int("studies", len(studyNames)).Msg("Starting image sync")

	for _, name := range studyNames {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		s.syncStudy(ctx, base, name, res)
	}

	for _, msg := range res.Errors {
		s.log.Warn().Msg(msg)
	}
	s.log.Info().
		Int("new_images", res.NewImages).
		Int("new_studies", res.NewStudies).
		Int("errors", len(res.Errors)).
		Msg("Image sync completed")
	return res, nil
}

func (s *Syncer) syncStudy(ctx context.Context, base, studyName string, res *Result) {
	db := s.store.WithContext(ctx)

	participants, err := subdirs(filepath.Join(base, studyName))
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("study %s: %v", studyName, err))
		return
	}

	var studies []models.Study
	if err := db.Where("name = ?", studyName).Limit(1).Find(&studies).Error; err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("study %s: %v", studyName, err))
		return
	}
	var st models.Study
	if len(studies) > 0 {
		st = studies[0]
	} else {
		st = models.Study{Name: studyName}
		if err := db.Create(&st).Error; err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("study %s: %v", studyName, err))
			return
		}
		res.NewStudies++
	}

	for _, participantName := range participants {
		var p models.Participant
		err := db.Where(models.Participant{Name: participantName, StudyID: st.ID}).FirstOrCreate(&p).Error
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("participant %s/%s: %v", studyName, participantName, err))
			continue
		}

		dir := filepath.Join(base, studyName, participantName)
		entries, err := os.ReadDir(dir)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("participant %s/%s: %v", studyName, participantName, err))
			continue
		}

		for _, entry := range entries {
			if entry.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
				continue
			}
			added, err := s.addImage(db, entry, path.Join(ImagesDir, studyName, participantName, entry.Name()), &p)
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("image %s/%s/%s: %v", studyName, participantName, entry.Name(), err))
				continue
			}
			if added {
				res.NewImages++
			}
		}
	}
}

// addImage inserts the file unless an image with the same relative path is
// already recorded, wherever its participant has been moved since.
func (s *Syncer) addImage(db *gorm.DB, entry os.DirEntry, rel string, p *models.Participant) (bool, error) {
	var n int64
	if err := db.Model(&models.Image{}).Where("filepath = ?", rel).Count(&n).Error; err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}

	info, err := entry.Info()
	if err != nil {
		return false, err
	}

	img := models.Image{
		Filename:      entry.Name(),
		Filepath:      rel,
		ParticipantID: p.ID,
		StudyID:       p.StudyID,
		UploadTime:    info.ModTime().UTC(),
		Status:        models.StatusPending,
	}
	if err := db.Create(&img).Error; err != nil {
		return false, err
	}
	return true, nil
}

func subdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
