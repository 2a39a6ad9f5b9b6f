package main

import (
	"fmt"
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/tigrisdata/s3fs/cli"
	_ "github.com/tigrisdata/s3fs/storage/driver/azure"
	_ "github.com/tigrisdata/s3fs/storage/driver/inmemory"
	_ "github.com/tigrisdata/s3fs/storage/driver/s3-aws/v1"
	_ "github.com/tigrisdata/s3fs/storage/driver/s3-aws/v2"
	"gitlab.com/gitlab-org/labkit/fips"
)

func main() {
	// if running in FIPS mode, this emits an info log message saying so
	fips.Check()

	if err := cli.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
