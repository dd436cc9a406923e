package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"annotator/internal/logger"
	"annotator/internal/tasks"
)

var processCmd = &cobra.Command{
	Use:   "process-ocr",
	Short: "Run OCR over stored images and save the results",
	Long: `Run OCR over images recorded in the database and upsert one result per image.

Without flags every image that has no OCR result yet is processed. Results
are committed in batches of OCR_BATCH_SIZE (default 100); the reported count
is the number of rows actually committed.

Optional environment variables:
  OCR_WORKERS            - Number of parallel workers (default: CPU cores)
  OCR_PERSIST_CONFIDENCE - Store confidence scores (default: true)
  OCR_SINGLE_THREADED    - Never start a worker pool (default: false)`,
	Example: `  # Process everything not processed yet
  annotator process-ocr

  # One study, including images that already have results
  annotator process-ocr --study 3 --force

  # Specific images
  annotator process-ocr --images 12,13,14

  # Staging run over the first 2 participants of every study
  annotator process-ocr --limit-per-study 2`,
	Args: cobra.NoArgs,
	RunE: runProcessOCR,
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().Uint("study", 0, "Only process images of this study id")
	processCmd.Flags().String("images", "", "Comma-separated image ids to (re)process")
	processCmd.Flags().Int("limit-per-study", 0, "Only process the first N participants of each study")
	processCmd.Flags().Bool("single-threaded", false, "Process images one at a time")
	processCmd.Flags().Bool("force", false, "Include images that already have a result")
}

func runProcessOCR(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("process-ocr")

	studyID, _ := cmd.Flags().GetUint("study")
	imagesFlag, _ := cmd.Flags().GetString("images")
	limit, _ := cmd.Flags().GetInt("limit-per-study")
	singleThreaded, _ := cmd.Flags().GetBool("single-threaded")
	force, _ := cmd.Flags().GetBool("force")

	imageIDs, err := parseIDs(imagesFlag)
	if err != nil {
		return err
	}

	p, err := openPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, cancel := signalContext(0, log)
	defer cancel()

	runner, err := p.runner(ctx, false, log)
	if err != nil {
		return err
	}
	runner.SingleThreaded = runner.SingleThreaded || singleThreaded

	report, err := runner.ProcessOCR(ctx, tasks.ProcessOCRArgs{
		StudyID:       studyID,
		ImageIDs:      imageIDs,
		LimitPerStudy: limit,
		Force:         force,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Run:         %s\n", report.RunID)
	fmt.Printf("Targets:     %d\n", report.Targets)
	fmt.Printf("Processed:   %d\n", report.Saved)
	if report.Failed > 0 {
		fmt.Printf("Failed:      %d\n", report.Failed)
	}
	if report.Unsaved > 0 {
		fmt.Printf("Not saved:   %d (%d failed batches)\n", report.Unsaved, report.FailedFlushes)
	}
	fmt.Printf("Duration:    %s\n", report.Duration.Round(time.Millisecond))
	return nil
}

func parseIDs(s string) ([]uint, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var ids []uint
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("invalid image id %q", part)
		}
		ids = append(ids, uint(n))
	}
	return ids, nil
}
