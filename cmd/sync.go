package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"annotator/internal/logger"
	"annotator/internal/tasks"
)

var syncCmd = &cobra.Command{
	Use:   "sync-images",
	Short: "Register new screenshots from the first image root",
	Long: `Walk <root>/images/<study>/<participant>/ on the first IMAGE_ROOTS entry and
register every .png, .jpg or .jpeg file not recorded yet. Missing studies and
participants are created.`,
	Example: `  annotator sync-images
  annotator sync-images --study 3`,
	Args: cobra.NoArgs,
	RunE: runSyncImages,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().Uint("study", 0, "Only sync the folder of this study id")
}

func runSyncImages(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("sync-images")
	studyID, _ := cmd.Flags().GetUint("study")

	p, err := openPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, cancel := signalContext(0, log)
	defer cancel()

	runner := tasks.NewRunner(nil, p.syncer(), false, false)
	res, err := runner.SyncImages(ctx, tasks.SyncImagesArgs{StudyID: studyID})
	if err != nil {
		return err
	}

	fmt.Printf("New images:  %d\n", res.NewImages)
	fmt.Printf("New studies: %d\n", res.NewStudies)
	for _, e := range res.Errors {
		fmt.Printf("  error: %s\n", e)
	}
	return nil
}
