package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"slices"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/tigrisdata/s3fs/configuration"
	"github.com/tigrisdata/s3fs/health"
	"github.com/tigrisdata/s3fs/internal/feature"
	"github.com/tigrisdata/s3fs/log"
	"github.com/tigrisdata/s3fs/storage/driver/factory"
	"github.com/tigrisdata/s3fs/storage/driver/s3-aws/common"
	"github.com/tigrisdata/s3fs/transfer"
	"github.com/tigrisdata/s3fs/version"
	"gitlab.com/gitlab-org/labkit/errortracking"
	logkit "gitlab.com/gitlab-org/labkit/log"
	"gitlab.com/gitlab-org/labkit/monitoring"
)

const (
	azureDriverName   = "azure"
	featureFlagPrefix = "S3FS_FF_"
)

// createStore builds the blob store named by the configuration.
var createStore = factory.Create // for test purposes only

func resolveConfiguration(args []string, opts ...configuration.ParseOption) (*configuration.Configuration, error) {
	var configurationPath string

	if len(args) > 0 {
		configurationPath = args[0]
	} else if p := viper.GetString(configurationPathKey); p != "" {
		configurationPath = p
	}

	if configurationPath == "" {
		return nil, errors.New("configuration path unspecified")
	}

	// nolint: gosec
	fp, err := os.Open(configurationPath)
	if err != nil {
		return nil, err
	}

	defer fp.Close()

	config, err := configuration.Parse(fp, opts...)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configurationPath, err)
	}

	return config, nil
}

// configureLogging prepares the context with a logger using the configuration.
func configureLogging(ctx context.Context, config *configuration.Configuration) (context.Context, error) {
	// We need to set the GITLAB_ISO8601_LOG_TIMESTAMP env var so that LabKit will use ISO 8601 timestamps with
	// millisecond precision instead of the logrus default format (RFC3339).
	envVar := "GITLAB_ISO8601_LOG_TIMESTAMP"
	if err := os.Setenv(envVar, "true"); err != nil {
		return nil, fmt.Errorf("unable to set environment variable %q: %w", envVar, err)
	}

	output := config.Log.Output
	if output == configuration.LogOutputDiscard {
		output = configuration.LogOutputStderr
	}

	// s3fs doesn't log to a file, so we can ignore the io.Closer (noop) returned by LabKit
	if _, err := logkit.Initialize(
		logkit.WithFormatter(config.Log.Formatter.String()),
		logkit.WithLogLevel(config.Log.Level.String()),
		logkit.WithOutputName(output.String()),
	); err != nil {
		return nil, err
	}
	if config.Log.Output == configuration.LogOutputDiscard {
		logrus.SetOutput(config.Log.Output.Descriptor())
	}

	l := log.GetLogger(log.WithContext(ctx))
	if len(config.Log.Fields) > 0 {
		l = l.WithFields(log.Fields(config.Log.Fields))
	}

	return log.WithLogger(ctx, l), nil
}

func configureReporting(config *configuration.Configuration) error {
	if !config.Reporting.Sentry.Enabled {
		return nil
	}

	if err := errortracking.Initialize(
		errortracking.WithSentryDSN(config.Reporting.Sentry.DSN),
		errortracking.WithSentryEnvironment(config.Reporting.Sentry.Environment),
		errortracking.WithVersion(version.Version),
	); err != nil {
		return fmt.Errorf("failed to configure Sentry: %w", err)
	}
	return nil
}

// configureMonitoring returns the debug server options, or nil when no debug
// address is configured. The --debug-server flag takes precedence over
// debug.addr.
func configureMonitoring(ctx context.Context, config *configuration.Configuration, store transfer.BlobStore) ([]monitoring.Option, error) {
	addr := debugAddr
	if addr == "" {
		addr = config.Debug.Addr
	}
	if addr == "" {
		return nil, nil
	}

	l := log.GetLogger(log.WithContext(ctx))

	var checker *health.StoreStatusChecker
	if probe := config.Debug.Health.Probe; probe != "" {
		ref, err := parseRef(probe)
		if err != nil {
			return nil, fmt.Errorf("debug.health.probe: %w", err)
		}
		checker = health.NewStoreStatusChecker(store, ref, config.Debug.Health.Interval, config.Debug.Health.Timeout, l)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		if checker != nil {
			if err := checker.HealthCheck(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	l.WithFields(log.Fields{"address": addr, "path": "/debug/health"}).Info("starting health checker")

	if checker != nil {
		checker.Start(ctx)
		mux.Handle("/debug/health/storage", checker)
		l.WithFields(log.Fields{
			"address":  addr,
			"path":     "/debug/health/storage",
			"probe":    config.Debug.Health.Probe,
			"interval": config.Debug.Health.Interval,
		}).Info("starting storage health checker")
	}

	opts := []monitoring.Option{
		monitoring.WithListener(ln),
		monitoring.WithServeMux(mux),
	}

	if config.Debug.Prometheus.Enabled {
		opts = append(opts, monitoring.WithMetricsHandlerPattern(config.Debug.Prometheus.Path))
		opts = append(opts, monitoring.WithBuildInformation(version.Version, version.BuildTime))
		opts = append(opts, monitoring.WithBuildExtraLabels(map[string]string{
			"package":  version.Package,
			"revision": version.Revision,
		}))
		l.WithFields(log.Fields{"address": addr, "path": config.Debug.Prometheus.Path}).Info("starting Prometheus listener")
	} else {
		opts = append(opts, monitoring.WithoutMetrics())
	}

	if config.Debug.Pprof.Enabled {
		l.WithFields(log.Fields{"address": addr, "path": "/debug/pprof/"}).Info("starting pprof listener")
	} else {
		opts = append(opts, monitoring.WithoutPprof())
	}

	return opts, nil
}

func startMonitoring(ctx context.Context, config *configuration.Configuration, store transfer.BlobStore) error {
	opts, err := configureMonitoring(ctx, config, store)
	if err != nil {
		return fmt.Errorf("failed to configure monitoring service: %w", err)
	}
	if opts == nil {
		return nil
	}

	go func() {
		if err := monitoring.Start(opts...); err != nil {
			log.GetLogger(log.WithContext(ctx)).WithError(err).Error("unable to start monitoring service")
		}
	}()

	return nil
}

// setup parses the configuration, prepares logging, error reporting and the
// debug server for a command and builds the configured store.
func setup(ctx context.Context, args []string) (context.Context, *configuration.Configuration, transfer.BlobStore, error) {
	config, err := resolveConfiguration(args)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("configuration error: %w", err)
	}

	ctx, err = configureLogging(ctx, config)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("unable to configure logging with config: %w", err)
	}

	if err := configureReporting(config); err != nil {
		return nil, nil, nil, err
	}

	warnUnknownFeatureFlags(ctx, os.Environ())

	store, err := createStore(config.Storage.Type(), config.Storage.Parameters())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to construct %s driver: %w", config.Storage.Type(), err)
	}

	if err := startMonitoring(ctx, config, store); err != nil {
		return nil, nil, nil, err
	}

	return ctx, config, store, nil
}

// warnUnknownFeatureFlags logs feature flag variables that match no known
// flag, which usually means a typo.
func warnUnknownFeatureFlags(ctx context.Context, environ []string) []string {
	var unknown []string
	for _, kv := range environ {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, featureFlagPrefix) && !feature.KnownEnvVar(name) {
			unknown = append(unknown, name)
		}
	}

	if len(unknown) > 0 {
		log.GetLogger(log.WithContext(ctx)).WithField("variables", unknown).Warn("ignoring unknown feature flags")
	}
	return unknown
}

// newEngine builds an engine driving store with the transfer settings of config.
func newEngine(config *configuration.Configuration, store transfer.BlobStore) (*transfer.Engine, error) {
	t := config.Transfer

	policy, err := transfer.NewPolicy(transfer.PolicyOptions{
		PartSize:    t.PartSize,
		MinPartSize: t.MinPartSize,
		MaxPartSize: t.MaxPartSize,
		MaxParts:    t.MaxParts,
		MaxAttempts: t.MaxAttempts,
		RetryBase:   t.RetryBase,
		RetryCap:    t.RetryCap,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid transfer configuration: %w", err)
	}

	return transfer.NewEngine(store, transfer.Config{
		Policy:         policy,
		MaxConcurrency: t.MaxConcurrency,
		QueueSize:      t.QueueSize,
	})
}

// closeEngine shuts down engine and logs a failure.
func closeEngine(ctx context.Context, engine interface{ Close(context.Context) error }) {
	if err := engine.Close(ctx); err != nil {
		log.GetLogger(log.WithContext(ctx)).WithError(err).Warn("failed to shut down transfer engine")
	}
}

// newTarget applies the transfer settings of config to ref.
func newTarget(ctx context.Context, config *configuration.Configuration, ref transfer.ObjectRef) (transfer.Target, error) {
	class, err := storageClass(ctx, config)
	if err != nil {
		return transfer.Target{}, err
	}

	encrypt, keyID := encryption(ctx, config.Transfer)

	return transfer.Target{
		ObjectRef:    ref,
		StorageClass: class,
		Encrypt:      encrypt,
		KMSKeyID:     keyID,
	}, nil
}

// knownStorageClasses lists the storage classes understood by a driver, or
// nil when the driver does not restrict them.
func knownStorageClasses(driver string) []string {
	switch driver {
	case common.V1DriverName, common.V2DriverName:
		return s3.StorageClass_Values()
	case azureDriverName:
		var tiers []string
		for _, t := range blob.PossibleAccessTierValues() {
			tiers = append(tiers, string(t))
		}
		return tiers
	default:
		return nil
	}
}

// storageClass validates transfer.storageclass. Unknown classes are dropped
// in favor of the store default unless strict storage classes are enabled.
func storageClass(ctx context.Context, config *configuration.Configuration) (string, error) {
	class := config.Transfer.StorageClass
	if class == "" {
		return "", nil
	}

	known := knownStorageClasses(config.Storage.Type())
	if known == nil || slices.Contains(known, class) {
		return class, nil
	}

	if feature.StrictStorageClass.Enabled() {
		return "", fmt.Errorf("transfer.storageclass must be one of %v, %q invalid", known, class)
	}

	log.GetLogger(log.WithContext(ctx)).WithFields(log.Fields{
		"storage_class": class,
		"driver":        config.Storage.Type(),
	}).Warn("unknown storage class, using the store default")
	return "", nil
}

// encryption maps transfer.encrypt and transfer.keyid to a target's
// encryption settings. A key id always selects KMS.
func encryption(ctx context.Context, t configuration.Transfer) (bool, string) {
	switch {
	case t.KeyID != "":
		return true, t.KeyID
	case strings.EqualFold(t.Encrypt, "AES256"):
		return true, ""
	case t.Encrypt != "":
		log.GetLogger(log.WithContext(ctx)).WithField("encrypt", t.Encrypt).Warn("unsupported server side encryption, only AES256 is accepted without a key id")
	}
	return false, ""
}

// parseRef parses a "bucket/key" argument. "/key" leaves the bucket empty so
// the store uses its configured default.
func parseRef(s string) (transfer.ObjectRef, error) {
	bucket, key, ok := strings.Cut(s, "/")
	if !ok || key == "" {
		return transfer.ObjectRef{}, fmt.Errorf("invalid object reference %q, expected [bucket]/<key>", s)
	}
	return transfer.ObjectRef{Bucket: bucket, Key: key}, nil
}
