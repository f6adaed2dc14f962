package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	cerrors "github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/mmheap/brk"
	"github.com/vkngwrapper/mmheap/heap"
	"github.com/vkngwrapper/mmheap/internal/driver"
	"github.com/vkngwrapper/mmheap/internal/trace"
	"golang.org/x/exp/slog"
)

var (
	runCheck   bool
	runChunk   int
	runMaxHeap int
	runMmap    bool
	runDump    bool
)

func init() {
	cmd := newRunCmd()
	cmd.Flags().BoolVar(&runCheck, "check", false, "Validate the whole heap after every operation")
	cmd.Flags().IntVar(&runChunk, "chunk", heap.DefaultChunkSize, "Minimum number of bytes the heap grows by")
	cmd.Flags().IntVar(&runMaxHeap, "max-heap", brk.DefaultMaxHeap, "Capacity of the backing region in bytes")
	cmd.Flags().BoolVar(&runMmap, "mmap", false, "Back each heap with an anonymous memory mapping")
	cmd.Flags().BoolVar(&runDump, "dump", false, "Include a map of every heap block once each trace finishes")
	rootCmd.AddCommand(cmd)
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <trace>...",
		Short: "Replay one or more traces",
		Long: `The run command replays each trace against a fresh heap and prints the
number of operations, the peak live payload, the final heap size and the
utilization (peak payload divided by heap size).

Example:
  mdriver run short1.rep
  mdriver run --check --chunk 1024 traces/*.rep
  mdriver run --json --dump binary.rep`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTraces(cmd.OutOrStdout(), args)
		},
	}
	return cmd
}

type traceResult struct {
	Path   string
	Result driver.Result
	Err    error
	// Map is the JSON heap map, present when --dump is given and the heap could be created
	Map []byte
}

func runTraces(out io.Writer, args []string) error {
	logger := newLogger()

	results := make([]traceResult, 0, len(args))
	for _, path := range args {
		printVerbose("Replaying %s\n", path)
		results = append(results, replayFile(path, logger))
	}

	var err error
	if jsonOut {
		err = writeJSON(out, results)
	} else {
		err = writeTable(out, results)
	}
	if err != nil {
		return err
	}

	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return cerrors.Newf("%d of %d traces failed", failed, len(results))
	}

	return nil
}

func newGrower() (brk.Grower, func(), error) {
	if !runMmap {
		return brk.NewRegion(runMaxHeap), func() {}, nil
	}

	mapped, err := brk.NewMapped(runMaxHeap)
	if err != nil {
		return nil, nil, err
	}

	return mapped, func() {
		_ = mapped.Close()
	}, nil
}

func replayFile(path string, logger *slog.Logger) traceResult {
	result := traceResult{Path: path}

	t, err := trace.ParseFile(path)
	if err != nil {
		result.Err = err
		return result
	}

	grower, release, err := newGrower()
	if err != nil {
		result.Err = err
		return result
	}
	defer release()

	h, err := heap.New(logger, heap.CreateOptions{ChunkSize: runChunk, Grower: grower})
	if err != nil {
		result.Err = err
		return result
	}

	result.Result, result.Err = driver.Replay(h, t, driver.Options{Check: runCheck, Logger: logger})

	if runDump {
		writer := jwriter.NewWriter()
		h.PrintDetailedMap(&writer)
		result.Map = writer.Bytes()
	}

	return result
}

func writeTable(out io.Writer, results []traceResult) error {
	table := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(table, "TRACE\tVALID\tOPS\tPEAK\tHEAP\tUTIL")

	var utilization float64
	valid := 0
	for _, result := range results {
		if result.Err != nil {
			fmt.Fprintf(table, "%s\tno\t%d\t-\t-\t-\n", result.Path, result.Result.Ops)
			continue
		}

		valid++
		utilization += result.Result.Utilization()
		fmt.Fprintf(table, "%s\tyes\t%d\t%d\t%d\t%.1f%%\n", result.Path, result.Result.Ops,
			result.Result.PeakPayload, result.Result.HeapSize, 100*result.Result.Utilization())
	}

	if valid > 0 {
		fmt.Fprintf(table, "Total\t%d/%d\t\t\t\t%.1f%%\n", valid, len(results), 100*utilization/float64(valid))
	}

	err := table.Flush()
	if err != nil {
		return err
	}

	for _, result := range results {
		if result.Err != nil {
			fmt.Fprintf(out, "\n%s: %v\n", result.Path, result.Err)
		}
	}

	for _, result := range results {
		if result.Map != nil {
			fmt.Fprintf(out, "\n%s heap map:\n%s\n", result.Path, result.Map)
		}
	}

	return nil
}

func writeJSON(out io.Writer, results []traceResult) error {
	writer := jwriter.NewWriter()

	arr := writer.Array()
	for _, result := range results {
		obj := arr.Object()
		obj.Name("Trace").String(result.Path)
		obj.Name("Valid").Bool(result.Err == nil)
		if result.Err != nil {
			obj.Name("Error").String(result.Err.Error())
		}
		obj.Name("Ops").Int(result.Result.Ops)
		obj.Name("PeakPayload").Int(result.Result.PeakPayload)
		obj.Name("HeapSize").Int(result.Result.HeapSize)
		obj.Name("Utilization").Float64(result.Result.Utilization())
		obj.Name("Allocations").Int(result.Result.Statistics.AllocationCount)
		obj.Name("FreeBlocks").Int(result.Result.Statistics.FreeBlockCount)
		if result.Map != nil {
			obj.Name("Map").Raw(result.Map)
		}
		obj.End()
	}
	arr.End()

	err := writer.Error()
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, string(writer.Bytes()))
	return err
}
