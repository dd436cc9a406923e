package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"annotator/internal/logger"
	"annotator/internal/study"
)

var studyCmd = &cobra.Command{
	Use:   "study",
	Short: "Split oversized studies into batches and merge them back",
}

var studySplitCmd = &cobra.Command{
	Use:   "split [study-id]",
	Short: "Move participants into {name}_batch_{n} studies",
	Example: `  # Batches of 20 participants
  annotator study split 3 --batch-size 20`,
	Args: cobra.ExactArgs(1),
	RunE: runStudySplit,
}

var studyMergeCmd = &cobra.Command{
	Use:   "merge [study-id]",
	Short: "Move all batch-study participants back to the study",
	Args:  cobra.ExactArgs(1),
	RunE:  runStudyMerge,
}

var studyDeleteBatchesCmd = &cobra.Command{
	Use:   "delete-batches [study-id]",
	Short: "Delete the study's batch studies once they are empty",
	Args:  cobra.ExactArgs(1),
	RunE:  runStudyDeleteBatches,
}

var studyProgressCmd = &cobra.Command{
	Use:   "progress [study-id]",
	Short: "Show how many of the study's images are approved",
	Args:  cobra.ExactArgs(1),
	RunE:  runStudyProgress,
}

func init() {
	rootCmd.AddCommand(studyCmd)
	studyCmd.AddCommand(studySplitCmd, studyMergeCmd, studyDeleteBatchesCmd, studyProgressCmd)

	studySplitCmd.Flags().Int("batch-size", 50, "Participants per batch study")
}

func parseStudyID(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid study id %q", arg)
	}
	return uint(id), nil
}

func runStudySplit(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("study")
	id, err := parseStudyID(args[0])
	if err != nil {
		return err
	}
	batchSize, _ := cmd.Flags().GetInt("batch-size")

	p, err := openPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	created, err := study.NewSplitter(p.store).Split(cmd.Context(), id, batchSize)
	if err != nil {
		log.Error().Err(err).Uint("study_id", id).Msg("Split failed")
		return err
	}

	fmt.Printf("Created %d batch studies\n", len(created))
	for _, name := range created {
		fmt.Printf("  %s\n", name)
	}
	return nil
}

func runStudyMerge(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("study")
	id, err := parseStudyID(args[0])
	if err != nil {
		return err
	}

	p, err := openPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	participants, batches, err := study.NewSplitter(p.store).Merge(cmd.Context(), id)
	if err != nil {
		log.Error().Err(err).Uint("study_id", id).Msg("Merge failed")
		return err
	}
	fmt.Printf("Merged %d participants from %d batch studies\n", participants, batches)
	return nil
}

func runStudyDeleteBatches(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("study")
	id, err := parseStudyID(args[0])
	if err != nil {
		return err
	}

	p, err := openPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	deleted, err := study.NewSplitter(p.store).DeleteEmptyBatches(cmd.Context(), id)
	if err != nil {
		log.Error().Err(err).Uint("study_id", id).Msg("Delete batches failed")
		return err
	}
	fmt.Printf("Deleted %d batch studies\n", len(deleted))
	for _, name := range deleted {
		fmt.Printf("  %s\n", name)
	}
	return nil
}

func runStudyProgress(cmd *cobra.Command, args []string) error {
	id, err := parseStudyID(args[0])
	if err != nil {
		return err
	}

	p, err := openPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	progress, err := study.GetProgress(cmd.Context(), p.store, id)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d/%d approved (%.1f%%), %d rejected\n",
		progress.Name, progress.Approved, progress.Images, progress.Percent, progress.Rejected)
	return nil
}
