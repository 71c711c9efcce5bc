package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/calllog/internal/core"
	"github.com/JonMunkholm/calllog/internal/ingest"
)

type runFlags struct {
	batchSize            int
	workers              int
	maxConcurrentBatches int
	conservative         bool
	delimiter            string
	maxFileSize          int64
	jsonOutput           bool
	quiet                bool
}

func newRunCmd(sf *storeFlags) *cobra.Command {
	rf := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run <file|dir>...",
		Short: "Import one or more call log files",
		Long: `Import call log files synchronously, one after another.

Files may be plain CSV/TSV, xlsx workbooks, or gzip/zstd/xz compressed
exports; the format is detected from the content. Use - to read stdin.
A directory argument imports every call log file directly inside it.

Examples:
  # Import into a local SQLite file
  callimport run --sink sqlite --sqlite-path calls.db march.csv april.csv.gz

  # Slow, row-by-row import against a busy database
  callimport run --conservative --batch-size 200 export.xlsx

  # Everything in a drop folder
  callimport run --sink sqlite exports/`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, sf, rf, args)
		},
	}

	f := cmd.Flags()
	f.IntVar(&rf.batchSize, "batch-size", ingest.DefaultBatchSize, "records per sink write")
	f.IntVar(&rf.workers, "workers", ingest.DefaultWorkerCount, "parse workers")
	f.IntVar(&rf.maxConcurrentBatches, "max-concurrent-batches", ingest.DefaultMaxConcurrentBatches, "batches written at once")
	f.BoolVar(&rf.conservative, "conservative", false, "row-by-row writes with a pause after every batch group")
	f.StringVar(&rf.delimiter, "delimiter", "", "field separator (default: detect)")
	f.Int64Var(&rf.maxFileSize, "max-file-size", core.DefaultMaxFileSize, "largest accepted file in bytes, after decompression")
	f.BoolVar(&rf.jsonOutput, "json", false, "print results as JSON")
	f.BoolVarP(&rf.quiet, "quiet", "q", false, "no progress lines")
	return cmd
}

// fileResult is one line of --json output.
type fileResult struct {
	File   string         `json:"file"`
	Format core.Format    `json:"format"`
	Result *ingest.Result `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

func runImport(cmd *cobra.Command, sf *storeFlags, rf *runFlags, args []string) error {
	ctx := cmd.Context()

	files, err := expandInputs(args)
	if err != nil {
		return err
	}

	var delim rune
	if rf.delimiter != "" {
		runes := []rune(rf.delimiter)
		if rf.delimiter == `\t` || rf.delimiter == "tab" {
			runes = []rune{'\t'}
		}
		if len(runes) != 1 {
			return fmt.Errorf("--delimiter must be a single character")
		}
		delim = runes[0]
	}

	st, err := sf.open(ctx, true)
	if err != nil {
		return err
	}
	defer st.Close()

	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	failed := 0

	for _, file := range files {
		opts := ingest.Options{
			BatchSize:            rf.batchSize,
			WorkerCount:          rf.workers,
			MaxConcurrentBatches: rf.maxConcurrentBatches,
			Aggressive:           !rf.conservative,
			Delimiter:            delim,
			Logger:               sf.logger.With("file", file),
		}
		if !rf.quiet && !rf.jsonOutput {
			opts.OnProgress = progressPrinter(cmd.ErrOrStderr(), filepath.Base(file))
		}

		start := time.Now()
		fr := importFile(cmd, file, rf.maxFileSize, st, opts)
		if fr.Error != "" {
			failed++
		}

		if rf.jsonOutput {
			if err := enc.Encode(fr); err != nil {
				return err
			}
		} else {
			printSummary(out, fr, time.Since(start))
		}

		// Interrupted: report what ran and skip the rest.
		if ctx.Err() != nil {
			break
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}

func importFile(cmd *cobra.Command, file string, maxSize int64, st ingest.Sink, opts ingest.Options) fileResult {
	fr := fileResult{File: file}

	var r io.Reader
	if file == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(file)
		if err != nil {
			fr.Error = err.Error()
			return fr
		}
		defer f.Close()
		r = f
	}

	text, format, err := core.ReadUpload(r, maxSize)
	fr.Format = format
	if err != nil {
		fr.Error = err.Error()
		return fr
	}

	res, err := ingest.Run(cmd.Context(), text, st, opts)
	fr.Result = res
	if err != nil {
		fr.Error = err.Error()
	}
	return fr
}

// progressPrinter writes one line per progress event.
func progressPrinter(w io.Writer, name string) func(ingest.ProgressEvent) {
	return func(ev ingest.ProgressEvent) {
		fmt.Fprintf(w, "%s: %-10s %3d%%  found=%d created=%d updated=%d failed=%d\n",
			name, ev.Phase, ev.PercentComplete, ev.RecordsFound, ev.Created, ev.Updated, ev.Failed)
	}
}

func printSummary(w io.Writer, fr fileResult, elapsed time.Duration) {
	if fr.Result == nil {
		fmt.Fprintf(w, "%s: FAILED: %s\n", fr.File, core.FormatUserError(errors.New(fr.Error)))
		return
	}

	res := fr.Result
	fmt.Fprintf(w, "%s: %s  rows=%d records=%d created=%d updated=%d failed=%d rejected=%d (%s, %s)\n",
		fr.File, res.Phase, res.TotalRows, res.Records,
		res.Created, res.Updated, res.Failed, res.Rejected,
		fr.Format, elapsed.Round(time.Millisecond))
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
	if fr.Error != "" {
		fmt.Fprintf(w, "  stopped: %s\n", fr.Error)
	}
}
