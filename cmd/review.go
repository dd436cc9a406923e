package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"annotator/internal/logger"
	"annotator/internal/review"
	"annotator/internal/suggestions"
	"annotator/pkg/models"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Inspect and submit reviewer corrections",
}

var reviewCurrentCmd = &cobra.Command{
	Use:   "current [image-id]",
	Short: "Print the text a reviewer starts from",
	Args:  cobra.ExactArgs(1),
	RunE:  runReviewCurrent,
}

var reviewSubmitCmd = &cobra.Command{
	Use:   "submit [image-id]",
	Short: "Submit a corrected text for an image",
	Long: `Validate and store a corrected text. The text is read from --text, or from
stdin when --text is "-". Lines of the form "app,duration" need both parts.`,
	Example: `  annotator review submit 12 --text "instagram,45m" --status approved --user 2
  annotator review submit 12 --reject --user 2
  cat fixed.txt | annotator review submit 12 --text - --user 2`,
	Args: cobra.ExactArgs(1),
	RunE: runReviewSubmit,
}

var reviewQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List pending images, oldest upload first",
	Args:  cobra.NoArgs,
	RunE:  runReviewQueue,
}

var reviewParticipantCmd = &cobra.Command{
	Use:   "participant [study-name] [participant-name]",
	Short: "Print the review sheet of one participant as JSON",
	Args:  cobra.ExactArgs(2),
	RunE:  runReviewParticipant,
}

var reviewSuggestCmd = &cobra.Command{
	Use:   "suggest [query]",
	Short: "Search the app-name suggestions",
	Args:  cobra.ExactArgs(1),
	RunE:  runReviewSuggest,
}

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.AddCommand(reviewCurrentCmd, reviewSubmitCmd, reviewQueueCmd, reviewParticipantCmd, reviewSuggestCmd)

	reviewSubmitCmd.Flags().String("text", "", `Corrected text ("-" reads stdin)`)
	reviewSubmitCmd.Flags().String("status", "approved", "Review status: pending, approved or rejected")
	reviewSubmitCmd.Flags().Bool("reject", false, "Submit the standard rejection text with status rejected")
	reviewSubmitCmd.Flags().Uint("user", 0, "Reviewer user id")
	reviewQueueCmd.Flags().Int("limit", 50, "Maximum number of images (0 = all)")
}

func parseImageID(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid image id %q", arg)
	}
	return uint(id), nil
}

func runReviewCurrent(cmd *cobra.Command, args []string) error {
	id, err := parseImageID(args[0])
	if err != nil {
		return err
	}

	p, err := openPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	text, err := p.reconciler().CurrentText(cmd.Context(), id)
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}

func runReviewSubmit(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("review")

	id, err := parseImageID(args[0])
	if err != nil {
		return err
	}
	text, _ := cmd.Flags().GetString("text")
	status, _ := cmd.Flags().GetString("status")
	reject, _ := cmd.Flags().GetBool("reject")
	user, _ := cmd.Flags().GetUint("user")

	if reject {
		text, status = review.RejectionText, models.StatusRejected
	} else if text == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(data)
	}

	p, err := openPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	correction, err := p.reconciler().SubmitCorrection(cmd.Context(), review.Submission{
		ImageID:       id,
		CorrectedText: text,
		Status:        status,
		ReviewerID:    user,
	})
	if err != nil {
		var ve *review.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("invalid format: %s", ve.Error())
		}
		log.Error().Err(err).Uint("image_id", id).Msg("Correction failed")
		return err
	}

	fmt.Printf("Correction %d saved for image %d (%s)\n", correction.ID, id, correction.Status)
	return nil
}

func runReviewQueue(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	p, err := openPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	images, err := p.reconciler().Queue(cmd.Context(), limit)
	if err != nil {
		return err
	}
	for _, img := range images {
		fmt.Printf("%6d  %s  %s\n", img.ID, img.UploadTime.Format("2006-01-02 15:04"), img.Filepath)
	}
	fmt.Printf("%d pending\n", len(images))
	return nil
}

func runReviewParticipant(cmd *cobra.Command, args []string) error {
	p, err := openPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	sheet, err := p.reconciler().ParticipantSheet(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(sheet)
}

func runReviewSuggest(cmd *cobra.Command, args []string) error {
	p, err := openPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	matches, err := suggestions.New(p.cfg.SuggestionsFile).Search(args[0])
	if err != nil {
		return err
	}
	for _, m := range matches {
		fmt.Println(m)
	}
	return nil
}
