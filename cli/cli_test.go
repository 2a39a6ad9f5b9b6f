package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"github.com/tigrisdata/s3fs/configuration"
	"github.com/tigrisdata/s3fs/internal/feature"
	"github.com/tigrisdata/s3fs/log"
	"github.com/tigrisdata/s3fs/storage/driver/inmemory"
	"github.com/tigrisdata/s3fs/testutil"
	"github.com/tigrisdata/s3fs/transfer"
	"github.com/tigrisdata/s3fs/version"
)

const testConfigYaml = `
version: 0.1
log:
  level: debug
  output: discard
storage: inmemory
transfer:
  partsize: 8
  minpartsize: 1
`

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o600))
	return p
}

// withStore makes every command of the test run against d.
func withStore(t *testing.T, d transfer.BlobStore) {
	t.Helper()

	orig := createStore
	createStore = func(string, map[string]any) (transfer.BlobStore, error) {
		return d, nil
	}
	t.Cleanup(func() { createStore = orig })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	// flag values outlive a single execution
	contentType, copyPartSize, debugAddr, noProgress, showVersion, sourceSize = "", 0, "", false, false, -1

	var out bytes.Buffer
	RootCmd.SetArgs(args)
	RootCmd.SetOut(&out)
	RootCmd.SetErr(io.Discard)
	err := RootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPutAndCopy(t *testing.T) {
	d := inmemory.New(1)
	withStore(t, d)

	config := writeFile(t, "config.yml", []byte(testConfigYaml))
	blob, dgst := testutil.RandomBlob(t, 20)
	file := writeFile(t, "blob", blob)

	out, err := execute(t, "put", config, file, "bucket/src", "--no-progress", "--content-type", "application/x-test")
	require.NoError(t, err)
	require.Contains(t, out, dgst.String())
	require.Contains(t, out, "bucket/src")

	obj, err := d.GetObject(transfer.ObjectRef{Bucket: "bucket", Key: "src"})
	require.NoError(t, err)
	require.Equal(t, blob, obj.Data)
	require.Equal(t, "application/x-test", obj.Target.ContentType)

	out, err = execute(t, "copy", config, "bucket/src", "bucket/dst", "--part-size", "5")
	require.NoError(t, err)
	require.Contains(t, out, "bucket/dst")

	obj, err = d.GetObject(transfer.ObjectRef{Bucket: "bucket", Key: "dst"})
	require.NoError(t, err)
	require.Equal(t, blob, obj.Data)
	require.Zero(t, d.OpenUploads())
}

func TestPutSmallFileUsesSingleObject(t *testing.T) {
	d := inmemory.New(1)
	withStore(t, d)

	config := writeFile(t, "config.yml", []byte(testConfigYaml))
	file := writeFile(t, "small", []byte("tiny"))

	_, err := execute(t, "put", config, file, "bucket/small", "-q")
	require.NoError(t, err)

	obj, err := d.GetObject(transfer.ObjectRef{Bucket: "bucket", Key: "small"})
	require.NoError(t, err)
	require.Equal(t, []byte("tiny"), obj.Data)
	require.Zero(t, d.OpenUploads())
}

func TestPutConfigurationFromEnvironment(t *testing.T) {
	d := inmemory.New(1)
	withStore(t, d)

	t.Setenv("S3FS_CONFIGURATION_PATH", writeFile(t, "config.yml", []byte(testConfigYaml)))
	file := writeFile(t, "blob", []byte("from the environment"))

	_, err := execute(t, "put", file, "bucket/env", "-q")
	require.NoError(t, err)

	size, err := d.GetMetadata(context.Background(), transfer.ObjectRef{Bucket: "bucket", Key: "env"})
	require.NoError(t, err)
	require.EqualValues(t, len("from the environment"), size)
}

func TestPutErrors(t *testing.T) {
	withStore(t, inmemory.New(1))

	config := writeFile(t, "config.yml", []byte(testConfigYaml))
	file := writeFile(t, "blob", []byte("data"))

	_, err := execute(t, "put", config, filepath.Join(t.TempDir(), "missing"), "bucket/key", "-q")
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = execute(t, "put", config, file, "no-key", "-q")
	require.ErrorContains(t, err, "expected [bucket]/<key>")

	_, err = execute(t, "put", filepath.Join(t.TempDir(), "missing.yml"), file, "bucket/key", "-q")
	require.ErrorContains(t, err, "configuration error")
}

func TestCopyMissingSource(t *testing.T) {
	d := inmemory.New(1)
	withStore(t, d)

	config := writeFile(t, "config.yml", []byte(testConfigYaml))

	_, err := execute(t, "copy", config, "bucket/missing", "bucket/dst")

	var copyErr *transfer.CopyError
	require.ErrorAs(t, err, &copyErr)
	require.ErrorIs(t, err, inmemory.ErrNotFound)
	require.Zero(t, d.OpenUploads())
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	require.Contains(t, out, version.Version)

	out, err = execute(t, "--version")
	require.NoError(t, err)
	require.Contains(t, out, version.Package)
}

func TestParseRef(t *testing.T) {
	testCases := []struct {
		in       string
		expected transfer.ObjectRef
		wantErr  bool
	}{
		{in: "bucket/key", expected: transfer.ObjectRef{Bucket: "bucket", Key: "key"}},
		{in: "bucket/a/b/c", expected: transfer.ObjectRef{Bucket: "bucket", Key: "a/b/c"}},
		{in: "bucket", wantErr: true},
		{in: "bucket/", wantErr: true},
		{in: "/key", expected: transfer.ObjectRef{Key: "key"}},
		{in: "/", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(tt *testing.T) {
			ref, err := parseRef(tc.in)
			if tc.wantErr {
				require.Error(tt, err)
				return
			}
			require.NoError(tt, err)
			require.Equal(tt, tc.expected, ref)
		})
	}
}

func TestStorageClass(t *testing.T) {
	testCases := []struct {
		name     string
		driver   string
		class    string
		strict   bool
		expected string
		wantErr  bool
	}{
		{name: "unset", driver: "s3", expected: ""},
		{name: "known s3 class", driver: "s3", class: "STANDARD_IA", expected: "STANDARD_IA"},
		{name: "known s3_v2 class", driver: "s3_v2", class: "GLACIER_IR", expected: "GLACIER_IR"},
		{name: "unknown s3 class falls back", driver: "s3", class: "FAST", expected: ""},
		{name: "unknown s3 class strict", driver: "s3", class: "FAST", strict: true, wantErr: true},
		{name: "known azure tier", driver: "azure", class: "Cool", expected: "Cool"},
		{name: "unknown azure tier falls back", driver: "azure", class: "STANDARD", expected: ""},
		{name: "unrestricted driver", driver: "inmemory", class: "anything", strict: true, expected: "anything"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(tt *testing.T) {
			if tc.strict {
				tt.Setenv(feature.StrictStorageClass.EnvVariable, "true")
			}

			config := &configuration.Configuration{
				Storage:  configuration.Storage{tc.driver: configuration.Parameters{}},
				Transfer: configuration.Transfer{StorageClass: tc.class},
			}

			class, err := storageClass(testutil.NewContextWithLogger(tt), config)
			if tc.wantErr {
				require.ErrorContains(tt, err, "transfer.storageclass")
				return
			}
			require.NoError(tt, err)
			require.Equal(tt, tc.expected, class)
		})
	}
}

func TestEncryption(t *testing.T) {
	testCases := []struct {
		name     string
		transfer configuration.Transfer
		encrypt  bool
		keyID    string
	}{
		{name: "disabled"},
		{name: "aes256", transfer: configuration.Transfer{Encrypt: "AES256"}, encrypt: true},
		{name: "aes256 lower case", transfer: configuration.Transfer{Encrypt: "aes256"}, encrypt: true},
		{name: "kms", transfer: configuration.Transfer{Encrypt: "aws:kms", KeyID: "key"}, encrypt: true, keyID: "key"},
		{name: "key id alone", transfer: configuration.Transfer{KeyID: "key"}, encrypt: true, keyID: "key"},
		{name: "unsupported algorithm", transfer: configuration.Transfer{Encrypt: "aws:kms"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(tt *testing.T) {
			encrypt, keyID := encryption(testutil.NewContextWithLogger(tt), tc.transfer)
			require.Equal(tt, tc.encrypt, encrypt)
			require.Equal(tt, tc.keyID, keyID)
		})
	}
}

func TestNewEngineRejectsInvalidTransfer(t *testing.T) {
	config := &configuration.Configuration{
		Storage:  configuration.Storage{"inmemory": configuration.Parameters{}},
		Transfer: configuration.Transfer{RetryBase: 10, RetryCap: 1},
	}

	_, err := newEngine(config, inmemory.New(1))

	var invalid *transfer.InvalidArgumentError
	require.ErrorAs(t, err, &invalid)
}

func TestConfigureMonitoringDisabled(t *testing.T) {
	debugAddr = ""
	opts, err := configureMonitoring(testutil.NewContextWithLogger(t), &configuration.Configuration{}, inmemory.New(1))
	require.NoError(t, err)
	require.Nil(t, opts)
}

func TestBench(t *testing.T) {
	d := inmemory.New(1)
	withStore(t, d)

	config := writeFile(t, "config.yml", []byte(testConfigYaml))

	benchSizes, benchIterations, benchOutput = "20,4", 2, outputJSON
	t.Cleanup(func() { benchSizes, benchIterations, benchOutput = defaultBenchSizes, defaultBenchIterations, outputText })

	out, err := execute(t, "bench", config, "bucket/bench")
	require.NoError(t, err)

	var res BenchmarkOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Equal(t, "inmemory", res.Driver)
	require.Equal(t, "bucket/bench", res.Prefix)
	require.Len(t, res.WriteResults, 2)
	require.Len(t, res.CopyResults, 2)

	require.EqualValues(t, 20, res.WriteResults[0].SizeBytes)
	require.Equal(t, 2, res.WriteResults[0].Iterations)
	require.Equal(t, 3, res.WriteResults[0].Parts)
	require.Zero(t, res.WriteResults[1].Parts)

	for i := 0; i < 2; i++ {
		obj, err := d.GetObject(transfer.ObjectRef{Bucket: "bucket", Key: fmt.Sprintf("bench/20-copy-%d", i)})
		require.NoError(t, err)
		require.Len(t, obj.Data, 20)
	}
	require.Zero(t, d.OpenUploads())
}

func TestBenchInvalidFlags(t *testing.T) {
	withStore(t, inmemory.New(1))
	config := writeFile(t, "config.yml", []byte(testConfigYaml))
	t.Cleanup(func() { benchSizes, benchIterations, benchOutput = defaultBenchSizes, defaultBenchIterations, outputText })

	benchOutput = "yaml"
	_, err := execute(t, "bench", config, "bucket/bench")
	require.ErrorContains(t, err, "invalid output format")

	benchOutput, benchSizes = outputText, "12XB"
	_, err = execute(t, "bench", config, "bucket/bench")
	require.ErrorContains(t, err, "parsing sizes")
}

func TestParseSizes(t *testing.T) {
	sizes, err := parseSizes("1GB, 2mb,3KB,7")
	require.NoError(t, err)
	require.Equal(t, []int64{1 << 30, 2 << 20, 3 << 10, 7}, sizes)

	_, err = parseSizes("-1MB")
	require.Error(t, err)
}

func TestHumanizeBytes(t *testing.T) {
	require.Equal(t, "512 B", humanizeBytes(512))
	require.Equal(t, "1 KB", humanizeBytes(1024))
	require.Equal(t, "64 MB", humanizeBytes(64<<20))
	require.Equal(t, "2 GB", humanizeBytes(2<<30))
}

func TestAggregateResults(t *testing.T) {
	res := aggregateResults(1024, []BenchmarkResult{
		{Size: 1024, Duration: time.Second, Throughput: 10, Parts: 2},
		{Size: 1024, Duration: 2 * time.Second, Throughput: 20, Parts: 2},
	})

	require.Equal(t, 2, res.Iterations)
	require.Equal(t, 2, res.Parts)
	require.InDelta(t, 15, res.MeanThroughput, 0.001)
	require.InDelta(t, 5, res.StdDevThroughput, 0.001)
	require.InDelta(t, 10, res.MinThroughput, 0.001)
	require.InDelta(t, 20, res.MaxThroughput, 0.001)
	require.Equal(t, []int64{1000, 2000}, res.Durations)

	empty := aggregateResults(1, nil)
	require.Zero(t, empty.Iterations)
}

func TestRenderBenchmark(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderBenchmark(&buf, BenchmarkOutput{
		Driver:       "inmemory",
		WriteResults: []SizeResults{{SizeHuman: "1 KB", Iterations: 1, MeanThroughput: 1.5}},
	}))
	require.Contains(t, buf.String(), "WRITE RESULTS")
	require.NotContains(t, buf.String(), "COPY RESULTS")
	require.Contains(t, buf.String(), "1.50 MB/s")
}

func TestConfigureMonitoringInvalidProbe(t *testing.T) {
	debugAddr = ""
	config := &configuration.Configuration{}
	config.Debug.Addr = "127.0.0.1:0"
	config.Debug.Health.Probe = "no-key"

	_, err := configureMonitoring(testutil.NewContextWithLogger(t), config, inmemory.New(1))
	require.ErrorContains(t, err, "debug.health.probe")
}

func TestWarnUnknownFeatureFlags(t *testing.T) {
	unknown := warnUnknownFeatureFlags(testutil.NewContextWithLogger(t), []string{
		"HOME=/root",
		"S3FS_FF_COPY_CANCEL_SIBLINGS=false",
		"S3FS_FF_STRICT_STORAGE_CLAS=true",
		"S3FS_STORAGE_S3_BUCKET=bucket",
	})
	require.Equal(t, []string{"S3FS_FF_STRICT_STORAGE_CLAS"}, unknown)
}

type closerFunc func(context.Context) error

func (f closerFunc) Close(ctx context.Context) error { return f(ctx) }

func TestCloseEngineLogsFailure(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	ctx := log.WithLogger(context.Background(), log.FromLogrusLogger(logrus.NewEntry(logger)))

	closeEngine(ctx, closerFunc(func(context.Context) error { return nil }))
	require.Empty(t, hook.AllEntries())

	closeEngine(ctx, closerFunc(func(context.Context) error { return context.DeadlineExceeded }))
	require.Len(t, hook.AllEntries(), 1)
	require.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	require.Equal(t, context.DeadlineExceeded, hook.LastEntry().Data[logrus.ErrorKey])

	engine, err := newEngine(&configuration.Configuration{}, inmemory.New(1))
	require.NoError(t, err)
	closeEngine(ctx, engine)
	require.Len(t, hook.AllEntries(), 1)
}
