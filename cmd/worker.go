package cmd

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"annotator/internal/logger"
	"annotator/internal/tasks"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run queued tasks read from stdin",
	Long: `Read task messages from stdin, one JSON object per line, run them and write
one JSON reply per line to stdout.

The worker is itself the unit of concurrency of the queue, so OCR inside it
always runs single-threaded.

Messages:
  {"task": "process_ocr", "args": {"study_id": 3}}
  {"task": "process_ocr", "args": {"image_ids": [12, 13]}}
  {"task": "process_ocr", "args": {"limit_per_study": 2}}
  {"task": "sync_images", "args": {"study_id": 3}}`,
	Example: `  echo '{"task":"process_ocr"}' | annotator worker`,
	Args:    cobra.NoArgs,
	RunE:    runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("worker")

	p, err := openPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, cancel := signalContext(0, log)
	defer cancel()

	runner, err := p.runner(ctx, true, log)
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(os.Stdin)
	encoder := json.NewEncoder(os.Stdout)
	handled := 0

	log.Info().Msg("Worker ready")
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg tasks.Message
		reply := tasks.Reply{}
		if err := json.Unmarshal(line, &msg); err != nil {
			log.Warn().Err(err).Msg("Discarding malformed task message")
			reply.Error = "malformed task message: " + err.Error()
		} else {
			reply = runner.Dispatch(ctx, msg)
		}

		if err := encoder.Encode(reply); err != nil {
			return err
		}
		handled++
	}

	log.Info().Int("handled", handled).Msg("Worker stopped")
	return scanner.Err()
}
