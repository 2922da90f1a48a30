package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/logsieve/internal/config"
	"github.com/fyrsmithlabs/logsieve/internal/record"
)

var (
	maxLineBytes int
	strictInput  bool
)

func init() {
	pipeCmd.Flags().IntVar(&maxLineBytes, "max-line-bytes", 1<<20, "longest accepted input line")
	pipeCmd.Flags().BoolVar(&strictInput, "strict", false, "stop at the first line that is not a JSON record")
}

var pipeCmd = &cobra.Command{
	Use:   "pipe",
	Short: "Filter newline-delimited JSON records from stdin",
	Long: `Read NDJSON log records from stdin, run them through the pipeline and
write the result to the configured sink (stdout by default). Pending
aggregates are flushed at end of input.

Examples:
  # Scrub and fold an application's logs
  ./app 2>&1 | logsieve pipe

  # Keep 10% of traces, compressed to a file
  LOGSIEVE_SAMPLING_RATE=0.1 LOGSIEVE_SINK_TYPE=file \
  LOGSIEVE_SINK_PATH=/var/log/app.ndjson.zst LOGSIEVE_SINK_COMPRESS=true \
    logsieve pipe < app.log`,
	Args: cobra.NoArgs,
	RunE: runPipe,
}

func runPipe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a, err := newApp(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	logger := a.logger.Component("pipe")

	parser := record.NewParser(nil)
	sc := bufio.NewScanner(cmd.InOrStdin())
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var readErr error
	line := 0
	for ctx.Err() == nil && sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		recs, err := parser.Parse(b)
		if err != nil {
			if strictInput {
				readErr = fmt.Errorf("line %d: %w", line, err)
				break
			}
			logger.Warn("skipping invalid input line", zap.Int("line", line), zap.Error(err))
			continue
		}
		for _, rec := range recs {
			a.pipeline.Emit(ctx, rec)
		}
	}
	if err := sc.Err(); err != nil && readErr == nil {
		readErr = fmt.Errorf("reading input: %w", err)
	}

	if err := a.close(ctx); err != nil {
		return err
	}
	return readErr
}
