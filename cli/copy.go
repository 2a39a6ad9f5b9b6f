package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/tigrisdata/s3fs/transfer"
)

// CopyCmd is the cobra command that copies an object server side
var CopyCmd = &cobra.Command{
	Use:   "copy [config] <src bucket/key> <dst bucket/key>",
	Short: "`copy` copies an object within the store without downloading it",
	Long: "`copy` copies an object server side, splitting it into byte ranges that are copied in parallel. " +
		"The destination only appears once every range has been copied.",
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newCommandContext(cmd)
		return capture(ctx, copyObject(ctx, cmd, args))
	},
}

func copyObject(ctx context.Context, cmd *cobra.Command, args []string) error {
	configArgs, src, dst := args[:len(args)-2], args[len(args)-2], args[len(args)-1]

	source, err := parseRef(src)
	if err != nil {
		return err
	}
	ref, err := parseRef(dst)
	if err != nil {
		return err
	}

	ctx, config, store, err := setup(ctx, configArgs)
	if err != nil {
		return err
	}

	target, err := newTarget(ctx, config, ref)
	if err != nil {
		return err
	}

	engine, err := newEngine(config, store)
	if err != nil {
		return err
	}
	defer closeEngine(ctx, engine)

	var opts []transfer.CopyOption
	if sourceSize >= 0 {
		opts = append(opts, transfer.WithSourceSize(sourceSize))
	}
	if copyPartSize > 0 {
		opts = append(opts, transfer.WithPartSize(copyPartSize))
	}

	start := time.Now()
	res, err := engine.Copy(ctx, source, target, opts...)
	if err != nil {
		return err
	}

	return renderCopySummary(cmd.OutOrStdout(), source, ref, res, time.Since(start))
}

func renderCopySummary(out io.Writer, source, target transfer.ObjectRef, res *transfer.CopyResult, d time.Duration) error {
	uploadID := res.UploadID
	if uploadID == "" {
		uploadID = "-"
	}

	table := tablewriter.NewWriter(out)
	table.Header([]string{"Source", "Target", "Upload ID", "Bytes", "Chunk Size", "Parts", "Duration"})
	if err := table.Append([]string{
		source.String(),
		target.String(),
		uploadID,
		strconv.FormatInt(res.Size, 10),
		strconv.FormatInt(res.ChunkSize, 10),
		strconv.Itoa(res.Parts),
		d.Round(time.Millisecond).String(),
	}); err != nil {
		return fmt.Errorf("appending table: %w", err)
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("rendering table: %w", err)
	}
	return nil
}
