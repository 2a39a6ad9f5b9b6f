// Package cli implements the s3fs command tree.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tigrisdata/s3fs/version"
	"gitlab.com/gitlab-org/labkit/correlation"
	"gitlab.com/gitlab-org/labkit/errortracking"
)

const configurationPathKey = "configuration_path"

func init() {
	RootCmd.AddCommand(PutCmd)
	RootCmd.AddCommand(CopyCmd)
	RootCmd.AddCommand(BenchCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "show the version and exit")
	RootCmd.PersistentFlags().StringVarP(&debugAddr, "debug-server", "s", "", "run a debug server with health, metrics and pprof endpoints at <address:port>")

	PutCmd.Flags().StringVarP(&contentType, "content-type", "t", "", "content type stored with the object")
	PutCmd.Flags().BoolVarP(&noProgress, "no-progress", "q", false, "do not show a progress bar")

	CopyCmd.Flags().Int64VarP(&sourceSize, "size", "n", -1, "size of the source object in bytes, looked up when unset")
	CopyCmd.Flags().Int64VarP(&copyPartSize, "part-size", "p", 0, "part size in bytes, overriding transfer.partsize")

	BenchCmd.Flags().StringVarP(&benchSizes, "sizes", "z", defaultBenchSizes, "comma-separated object sizes to test (e.g., 16MB,1GB)")
	BenchCmd.Flags().IntVarP(&benchIterations, "iterations", "i", defaultBenchIterations, "number of iterations per size")
	BenchCmd.Flags().StringVarP(&benchOutput, "output", "o", outputText, "output format: text or json")

	RootCmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return fmt.Errorf("%w\n\n%s", err, c.UsageString())
	})

	// S3FS_CONFIGURATION_PATH locates the configuration file when it is not
	// passed as the first argument
	viper.SetEnvPrefix("s3fs")
	viper.AutomaticEnv()
}

// Command flag vars
var (
	benchIterations int
	benchOutput     string
	benchSizes      string
	contentType     string
	copyPartSize    int64
	debugAddr       string
	noProgress      bool
	showVersion     bool
	sourceSize      int64
)

// RootCmd is the main command for the 's3fs' binary.
var RootCmd = &cobra.Command{
	Use:           "s3fs",
	Short:         "`s3fs` moves objects into blob stores with multipart transfers",
	Long:          "`s3fs` moves objects into blob stores with multipart transfers",
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if showVersion {
			version.FprintVersion(cmd.OutOrStdout())
			return nil
		}
		return cmd.Usage()
	},
}

// VersionCmd is the cobra command that prints the binary version
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "`version` prints the version and exits",
	Long:  "`version` prints the version and exits",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		version.FprintVersion(cmd.OutOrStdout())
	},
}

// newCommandContext returns the context a command runs with, carrying a
// fresh correlation id.
func newCommandContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return correlation.ContextWithCorrelation(ctx, correlation.SafeRandomID())
}

// capture reports a failed command to the error tracker. It is a no-op
// unless error reporting was initialized.
func capture(ctx context.Context, err error) error {
	if err != nil {
		errortracking.Capture(err, errortracking.WithContext(ctx))
	}
	return err
}
