package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/opencontainers/go-digest"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/tigrisdata/s3fs/log"
	"github.com/tigrisdata/s3fs/transfer"
)

var barOptions = []progressbar.Option{
	progressbar.OptionSetElapsedTime(true),
	progressbar.OptionShowBytes(true),
	progressbar.OptionSetPredictTime(false),
	progressbar.OptionShowElapsedTimeOnFinish(),
	progressbar.OptionShowDescriptionAtLineEnd(),
	progressbar.OptionSetTheme(progressbar.Theme{
		Saucer:        "=",
		SaucerHead:    ">",
		SaucerPadding: " ",
		BarStart:      "[",
		BarEnd:        "]",
	}),
}

// PutCmd is the cobra command that uploads a local file
var PutCmd = &cobra.Command{
	Use:   "put [config] <file> <bucket/key>",
	Short: "`put` uploads a local file as a single object",
	Long: "`put` streams a local file into the configured store. Files larger than the part size are sent as a " +
		"multipart upload and only become visible once every part is stored. The configuration path may be " +
		"given through S3FS_CONFIGURATION_PATH instead of the first argument.",
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newCommandContext(cmd)
		return capture(ctx, put(ctx, cmd, args))
	},
}

// putSummary describes a finished upload.
type putSummary struct {
	ref      transfer.ObjectRef
	size     int64
	parts    int
	uploadID string
	digest   digest.Digest
	duration time.Duration
}

func put(ctx context.Context, cmd *cobra.Command, args []string) error {
	configArgs, file, dst := args[:len(args)-2], args[len(args)-2], args[len(args)-1]

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
	target.ContentType = contentType

	engine, err := newEngine(config, store)
	if err != nil {
		return err
	}
	defer closeEngine(ctx, engine)

	summary, err := upload(ctx, engine, file, target, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	return renderPutSummary(cmd.OutOrStdout(), summary)
}

// upload streams file through a transfer.Writer, digesting it on the way.
func upload(ctx context.Context, engine *transfer.Engine, file string, target transfer.Target, progress io.Writer) (*putSummary, error) {
	l := log.GetLogger(log.WithContext(ctx)).WithFields(log.Fields{
		"file":   file,
		"bucket": target.Bucket,
		"key":    target.Key,
	})

	// nolint: gosec // the file is chosen by the operator
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%s is a directory", file)
	}

	opts := make([]progressbar.Option, len(barOptions), len(barOptions)+3)
	copy(opts, barOptions)
	opts = append(opts,
		progressbar.OptionSetDescription(fmt.Sprintf("uploading %s", filepath.Base(file))),
		progressbar.OptionSetWriter(progress),
		progressbar.OptionSetVisibility(!noProgress),
	)
	bar := progressbar.NewOptions64(fi.Size(), opts...)

	start := time.Now()
	w, err := engine.NewWriter(ctx, target)
	if err != nil {
		return nil, err
	}

	digester := digest.Canonical.Digester()
	if _, err := io.Copy(io.MultiWriter(w, digester.Hash(), bar), f); err != nil {
		if cerr := w.Cancel(ctx); cerr != nil {
			l.WithError(cerr).Warn("failed to cancel upload")
		}
		return nil, fmt.Errorf("uploading %s: %w", file, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("uploading %s: %w", file, err)
	}
	if err := bar.Finish(); err != nil {
		l.WithError(err).Debug("failed to finish progress bar")
	}

	summary := &putSummary{
		ref:      target.ObjectRef,
		size:     w.Size(),
		parts:    w.Parts(),
		uploadID: w.UploadID(),
		digest:   digester.Digest(),
		duration: time.Since(start),
	}
	l.WithFields(log.Fields{
		"size":       summary.size,
		"parts":      summary.parts,
		"upload_id":  summary.uploadID,
		"digest":     summary.digest,
		"duration_s": summary.duration.Seconds(),
	}).Info("upload complete")

	return summary, nil
}

func renderPutSummary(out io.Writer, s *putSummary) error {
	uploadID := s.uploadID
	if uploadID == "" {
		uploadID = "-"
	}

	table := tablewriter.NewWriter(out)
	table.Header([]string{"Object", "Bytes", "Parts", "Upload ID", "Digest", "Duration"})
	if err := table.Append([]string{
		s.ref.String(),
		strconv.FormatInt(s.size, 10),
		strconv.Itoa(s.parts),
		uploadID,
		s.digest.String(),
		s.duration.Round(time.Millisecond).String(),
	}); err != nil {
		return fmt.Errorf("appending table: %w", err)
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("rendering table: %w", err)
	}
	return nil
}
