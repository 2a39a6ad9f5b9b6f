package configuration

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Configuration is a versioned s3fs configuration, intended to be provided by a yaml file, and
// optionally modified by environment variables.
//
// Note that yaml field names should never include _ characters, since this is the separator used
// in environment variable names.
type Configuration struct {
	// Version is the version which defines the format of the rest of the configuration
	Version Version `yaml:"version"`

	// Log supports setting various parameters related to the logging
	// subsystem.
	Log Log `yaml:"log,omitempty"`

	// Storage is the configuration for the blob store transfers run against.
	Storage Storage `yaml:"storage"`

	// Transfer tunes part sizing, retries and concurrency.
	Transfer Transfer `yaml:"transfer,omitempty"`

	// Reporting is the configuration for error reporting
	Reporting Reporting `yaml:"reporting,omitempty"`

	// Debug configures the debug server.
	Debug Debug `yaml:"debug,omitempty"`
}

// Log configures the logger.
type Log struct {
	// Level is the granularity at which operations are logged.
	// Options include "error", "warn", "info", "debug" and "trace". The
	// default is "info".
	Level Loglevel `yaml:"level,omitempty"`

	// Formatter sets the format of logging output. Options include "text" and "json". The default is "text".
	Formatter logFormat `yaml:"formatter,omitempty"`

	// Output sets the output destination. Options include "stderr" and
	// "stdout". The default is "stderr", leaving stdout to command output.
	Output logOutput `yaml:"output,omitempty"`

	// Fields allows users to specify static string fields to include in
	// the logger context.
	Fields map[string]any `yaml:"fields,omitempty"`
}

// Transfer configures the transfer engine. Zero values select the engine
// defaults.
type Transfer struct {
	// PartSize is the preferred part size in bytes.
	PartSize int64 `yaml:"partsize,omitempty"`
	// MinPartSize and MaxPartSize bound the part size. Copies grow the part
	// size up to MaxPartSize to stay within MaxParts.
	MinPartSize int64 `yaml:"minpartsize,omitempty"`
	MaxPartSize int64 `yaml:"maxpartsize,omitempty"`
	MaxParts    int   `yaml:"maxparts,omitempty"`

	// MaxAttempts is the number of attempts made for every part, including
	// the first one.
	MaxAttempts int           `yaml:"maxattempts,omitempty"`
	RetryBase   time.Duration `yaml:"retrybase,omitempty"`
	RetryCap    time.Duration `yaml:"retrycap,omitempty"`

	// MaxConcurrency is the number of parts in flight at once, QueueSize the
	// number of parts waiting for a worker.
	MaxConcurrency int `yaml:"maxconcurrency,omitempty"`
	QueueSize      int `yaml:"queuesize,omitempty"`

	// StorageClass is applied to written objects.
	StorageClass string `yaml:"storageclass,omitempty"`
	// Encrypt selects server side encryption. Only AES256 is understood; a
	// KeyID selects KMS managed keys instead.
	Encrypt string `yaml:"encrypt,omitempty"`
	KeyID   string `yaml:"keyid,omitempty"`
}

// Reporting defines error reporting methods.
type Reporting struct {
	// Sentry configures error reporting for Sentry (sentry.io).
	Sentry SentryReporting `yaml:"sentry,omitempty"`
}

// SentryReporting configures error reporting for Sentry (sentry.io).
type SentryReporting struct {
	// Enabled is true if errors should be reported to Sentry.
	Enabled bool `yaml:"enabled,omitempty"`
	// DSN is the Sentry DSN.
	DSN string `yaml:"dsn,omitempty"`
	// Environment is the Sentry environment.
	Environment string `yaml:"environment,omitempty"`
}

// Debug configures the debug server, which exposes health, metrics and
// pprof endpoints while a transfer runs.
type Debug struct {
	// Addr specifies the bind address for the debug server. Empty disables it.
	Addr string `yaml:"addr,omitempty"`
	// Prometheus configures the Prometheus metrics endpoint.
	Prometheus struct {
		Enabled bool   `yaml:"enabled,omitempty"`
		Path    string `yaml:"path,omitempty"`
	} `yaml:"prometheus,omitempty"`
	// Pprof enables the pprof endpoints.
	Pprof struct {
		Enabled bool `yaml:"enabled,omitempty"`
	} `yaml:"pprof,omitempty"`
	// Health configures the storage probe served at /debug/health.
	Health struct {
		// Probe is the <bucket>/<key> looked up on every check. The object
		// does not need to exist. Empty disables the probe.
		Probe    string        `yaml:"probe,omitempty"`
		Interval time.Duration `yaml:"interval,omitempty"`
		Timeout  time.Duration `yaml:"timeout,omitempty"`
	} `yaml:"health,omitempty"`
}

// v0_1Configuration is a Version 0.1 Configuration struct
// This is currently aliased to Configuration, as it is the current version
type v0_1Configuration Configuration

// CurrentVersion is the most recent Version that can be parsed
var CurrentVersion = MajorMinorVersion(0, 1)

// Loglevel is the level at which operations are logged. This can be "error", "warn", "info", "debug" or "trace".
type Loglevel string

const (
	LogLevelError   Loglevel = "error"
	LogLevelWarn    Loglevel = "warn"
	LogLevelInfo    Loglevel = "info"
	LogLevelDebug   Loglevel = "debug"
	LogLevelTrace   Loglevel = "trace"
	defaultLogLevel          = LogLevelInfo
)

var logLevels = []Loglevel{
	LogLevelError,
	LogLevelWarn,
	LogLevelInfo,
	LogLevelDebug,
	LogLevelTrace,
}

// String implements the Stringer interface for Loglevel.
func (l Loglevel) String() string {
	return string(l)
}

func (l Loglevel) isValid() bool {
	for _, lvl := range logLevels {
		if l == lvl {
			return true
		}
	}
	return false
}

// UnmarshalYAML implements the yaml.Umarshaler interface for Loglevel, parsing it and validating that it represents a
// valid log level.
func (l *Loglevel) UnmarshalYAML(unmarshal func(any) error) error {
	var val string
	if err := unmarshal(&val); err != nil {
		return err
	}

	lvl := Loglevel(strings.ToLower(val))
	if !lvl.isValid() {
		return fmt.Errorf("invalid log level %q, must be one of %q", val, logLevels)
	}

	*l = lvl
	return nil
}

// logOutput is the output destination for logs. This can be either "stdout" or "stderr".
type logOutput string

const (
	LogOutputStdout  logOutput = "stdout"
	LogOutputStderr  logOutput = "stderr"
	LogOutputDiscard logOutput = "discard"
	defaultLogOutput           = LogOutputStderr
)

var logOutputs = []logOutput{LogOutputStdout, LogOutputStderr, LogOutputDiscard}

// String implements the Stringer interface for logOutput.
func (out logOutput) String() string {
	return string(out)
}

// Descriptor returns the os file descriptor of a log output.
func (out logOutput) Descriptor() io.Writer {
	switch out {
	case LogOutputStdout:
		return os.Stdout
	case LogOutputDiscard:
		return io.Discard
	default:
		return os.Stderr
	}
}

func (out logOutput) isValid() bool {
	for _, output := range logOutputs {
		if out == output {
			return true
		}
	}
	return false
}

// UnmarshalYAML implements the yaml.Umarshaler interface for logOutput, parsing it and validating that it represents a
// valid log output destination.
func (out *logOutput) UnmarshalYAML(unmarshal func(any) error) error {
	var val string
	if err := unmarshal(&val); err != nil {
		return err
	}

	lo := logOutput(strings.ToLower(val))
	if !lo.isValid() {
		return fmt.Errorf("invalid log output %q, must be one of %q", lo, logOutputs)
	}

	*out = lo
	return nil
}

// logFormat is the format of the application logs output. This can be either "text" or "json".
type logFormat string

const (
	LogFormatText    logFormat = "text"
	LogFormatJSON    logFormat = "json"
	defaultLogFormat           = LogFormatText
)

var logFormats = []logFormat{
	LogFormatText,
	LogFormatJSON,
}

// String implements the Stringer interface for logFormat.
func (ft logFormat) String() string {
	return string(ft)
}

func (ft logFormat) isValid() bool {
	for _, formatter := range logFormats {
		if ft == formatter {
			return true
		}
	}
	return false
}

// UnmarshalYAML implements the yaml.Umarshaler interface for logFormat, parsing it and validating that it
// represents a valid application log output format.
func (ft *logFormat) UnmarshalYAML(unmarshal func(any) error) error {
	var val string
	if err := unmarshal(&val); err != nil {
		return err
	}

	format := logFormat(strings.ToLower(val))
	if !format.isValid() {
		return fmt.Errorf("invalid log format %q, must be one of %q", format, logFormats)
	}

	*ft = format
	return nil
}

// Parameters defines a key-value parameters mapping
type Parameters map[string]any

// Storage defines the configuration for the blob store
type Storage map[string]Parameters

// Type returns the storage driver type, such as inmemory or s3
func (storage Storage) Type() string {
	// Return only key in this map
	for k := range storage {
		return k
	}
	return ""
}

// Parameters returns the Parameters map for a Storage configuration
func (storage Storage) Parameters() Parameters {
	return storage[storage.Type()]
}

// UnmarshalYAML implements the yaml.Unmarshaler interface
// Unmarshals a single item map into a Storage or a string into a Storage type with no parameters
func (storage *Storage) UnmarshalYAML(unmarshal func(any) error) error {
	var storageMap map[string]Parameters
	err := unmarshal(&storageMap)
	if err == nil {
		if len(storageMap) > 1 {
			types := make([]string, 0, len(storageMap))
			for k := range storageMap {
				types = append(types, k)
			}
			return fmt.Errorf("must provide exactly one storage type. Provided: %v", types)
		}
		*storage = storageMap
		return nil
	}

	var storageType string
	err = unmarshal(&storageType)
	if err == nil {
		*storage = Storage{storageType: make(Parameters)}
		return nil
	}

	return err
}

// MarshalYAML implements the yaml.Marshaler interface
func (storage Storage) MarshalYAML() (any, error) {
	if storage.Parameters() == nil {
		return storage.Type(), nil
	}
	return map[string]Parameters(storage), nil
}

// Validate reports every invalid transfer setting.
func (t Transfer) Validate() error {
	var result *multierror.Error

	for name, v := range map[string]int64{
		"partsize":       t.PartSize,
		"minpartsize":    t.MinPartSize,
		"maxpartsize":    t.MaxPartSize,
		"maxparts":       int64(t.MaxParts),
		"maxattempts":    int64(t.MaxAttempts),
		"maxconcurrency": int64(t.MaxConcurrency),
		"queuesize":      int64(t.QueueSize),
	} {
		if v < 0 {
			result = multierror.Append(result, fmt.Errorf("transfer.%s must not be negative, got %d", name, v))
		}
	}
	if t.RetryBase < 0 || t.RetryCap < 0 {
		result = multierror.Append(result, errors.New("transfer retry durations must not be negative"))
	}
	if t.MaxPartSize > 0 && t.MinPartSize > t.MaxPartSize {
		result = multierror.Append(result, fmt.Errorf("transfer.minpartsize %d is above transfer.maxpartsize %d", t.MinPartSize, t.MaxPartSize))
	}

	return result.ErrorOrNil()
}

type parseOpts struct {
	noStorageRequired bool
}

// ParseOption is used to pass options to Parse.
type ParseOption func(*parseOpts)

// WithoutStorageValidation configures Parse to disable the storage parameters validation.
func WithoutStorageValidation() ParseOption {
	return func(opts *parseOpts) {
		opts.noStorageRequired = true
	}
}

// Parse parses an input configuration yaml document into a Configuration struct
//
// Environment variables may be used to override configuration parameters other than version,
// following the scheme below:
// Configuration.Abc may be replaced by the value of S3FS_ABC,
// Configuration.Abc.Xyz may be replaced by the value of S3FS_ABC_XYZ, and so forth
func Parse(rd io.Reader, opts ...ParseOption) (*Configuration, error) {
	options := parseOpts{}
	for _, v := range opts {
		v(&options)
	}

	in, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}

	p := NewParser("s3fs", []VersionedParseInfo{
		{
			Version: MajorMinorVersion(0, 1),
			ParseAs: reflect.TypeOf(v0_1Configuration{}),
			ConversionFunc: func(c any) (any, error) {
				if v0_1, ok := c.(*v0_1Configuration); ok {
					if !options.noStorageRequired && v0_1.Storage.Type() == "" {
						return nil, errors.New("no storage configuration provided")
					}
					if err := v0_1.Transfer.Validate(); err != nil {
						return nil, err
					}
					return (*Configuration)(v0_1), nil
				}
				return nil, fmt.Errorf("expected *v0_1Configuration, received %#v", c)
			},
		},
	})

	config := new(Configuration)
	if err := p.Parse(in, config); err != nil {
		return nil, err
	}

	ApplyDefaults(config)

	return config, nil
}

const (
	defaultMaxConcurrency = 8
	defaultPrometheusPath = "/metrics"
	defaultHealthInterval = 10 * time.Second
	defaultHealthTimeout  = 2 * time.Second
)

func ApplyDefaults(config *Configuration) {
	if config.Log.Level == "" {
		config.Log.Level = defaultLogLevel
	}
	if config.Log.Output == "" {
		config.Log.Output = defaultLogOutput
	}
	if config.Log.Formatter == "" {
		config.Log.Formatter = defaultLogFormat
	}
	if config.Debug.Prometheus.Enabled && config.Debug.Prometheus.Path == "" {
		config.Debug.Prometheus.Path = defaultPrometheusPath
	}
	if config.Debug.Health.Probe != "" {
		if config.Debug.Health.Interval == 0 {
			config.Debug.Health.Interval = defaultHealthInterval
		}
		if config.Debug.Health.Timeout == 0 {
			config.Debug.Health.Timeout = defaultHealthTimeout
		}
	}
	if config.Transfer.MaxConcurrency == 0 {
		config.Transfer.MaxConcurrency = defaultMaxConcurrency
	}
	// enough queued parts to keep every worker busy while results are collected
	if config.Transfer.QueueSize == 0 {
		config.Transfer.QueueSize = 4 * config.Transfer.MaxConcurrency
	}
}
