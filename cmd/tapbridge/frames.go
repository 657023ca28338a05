package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/sarchlab/tapbridge/datarecording"
	"github.com/spf13/cobra"
)

type framesOptions struct {
	event  string
	runID  string
	limit  int
	offset int
}

var framesOpts framesOptions

var framesCmd = &cobra.Command{
	Use:   "frames RECORDING",
	Short: "List the runs and frames stored by run --record.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reader, err := datarecording.NewReader(args[0])
		if err != nil {
			return err
		}
		defer reader.Close()

		reader.MapTable(datarecording.RunTableName, datarecording.RunInfo{})
		reader.MapTable(datarecording.FrameTableName, datarecording.FrameRecord{})

		out := cmd.OutOrStdout()

		if err := printRuns(cmd, reader, out); err != nil {
			return err
		}

		return printFrames(cmd, reader, out, framesOpts)
	},
}

func init() {
	rootCmd.AddCommand(framesCmd)

	f := framesCmd.Flags()
	f.StringVar(&framesOpts.event, "event", "",
		"Only frames of this event: send, recv, drop or relay.")
	f.StringVar(&framesOpts.runID, "run", "", "Only frames of this run.")
	f.IntVar(&framesOpts.limit, "limit", 100,
		"Maximum number of frames. Zero lists all.")
	f.IntVar(&framesOpts.offset, "offset", 0, "Number of frames to skip.")
}

func printRuns(
	cmd *cobra.Command,
	reader datarecording.DataReader,
	out io.Writer,
) error {
	rows, _, err := reader.Query(cmd.Context(), datarecording.RunTableName,
		datarecording.QueryParams{OrderBy: "RunID"})
	if err != nil {
		return errors.Wrap(err, "read runs")
	}

	for _, row := range rows {
		info := row.(*datarecording.RunInfo)
		fmt.Fprintf(out, "run %s  %-20s %s\n", info.RunID, info.Property, info.Value)
	}

	return nil
}

func printFrames(
	cmd *cobra.Command,
	reader datarecording.DataReader,
	out io.Writer,
	opts framesOptions,
) error {
	if opts.limit < 0 || opts.offset < 0 {
		return errors.New("limit and offset must not be negative")
	}

	params := datarecording.QueryParams{
		OrderBy: "Time",
		Limit:   opts.limit,
		Offset:  opts.offset,
	}

	var conds []string
	if opts.event != "" {
		conds = append(conds, "Event = ?")
		params.Args = append(params.Args, opts.event)
	}
	if opts.runID != "" {
		conds = append(conds, "RunID = ?")
		params.Args = append(params.Args, opts.runID)
	}
	params.Where = strings.Join(conds, " AND ")

	rows, total, err := reader.Query(cmd.Context(),
		datarecording.FrameTableName, params)
	if err != nil {
		return errors.Wrap(err, "read frames")
	}

	fmt.Fprintf(out, "%d frames, showing %d\n", total, len(rows))

	for _, row := range rows {
		f := row.(*datarecording.FrameRecord)
		fmt.Fprintf(out, "%12.6f  %-10s %-24s %6d  %s\n",
			f.Time, f.Event, f.Where, f.Bytes, f.Detail)
	}

	return nil
}
