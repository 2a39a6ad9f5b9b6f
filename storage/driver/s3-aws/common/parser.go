// Package common holds the parameters shared by the S3 drivers built on both
// generations of the AWS SDK.
package common

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	v2_aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/endpoints"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/hashicorp/go-multierror"
	"github.com/tigrisdata/s3fs/internal/feature"
	"github.com/tigrisdata/s3fs/log"
	"github.com/tigrisdata/s3fs/storage/driver/internal/parse"
)

const (
	V1DriverName = "s3"
	V2DriverName = "s3_v2"
)

const (
	ParamRegion               = "region"
	ParamRegionEndpoint       = "regionendpoint"
	ParamBucket               = "bucket"
	ParamAccessKey            = "accesskey"
	ParamSecretKey            = "secretkey"
	ParamSessionToken         = "sessiontoken"
	ParamEncrypt              = "encrypt"
	ParamKeyID                = "keyid"
	ParamSecure               = "secure"
	ParamSkipVerify           = "skipverify"
	ParamPathStyle            = "pathstyle"
	ParamStorageClass         = "storageclass"
	ParamMaxRequestsPerSecond = "maxrequestspersecond"
	ParamMaxRetries           = "maxretries"
	ParamMaxConcurrency       = "maxconcurrency"
	ParamLogLevel             = "loglevel"
)

// Environment variables read by the integration tests.
const (
	EnvDriverVersion  = "S3_DRIVER_VERSION"
	EnvAccessKey      = "AWS_ACCESS_KEY"
	EnvSecretKey      = "AWS_SECRET_KEY"
	EnvSessionToken   = "AWS_SESSION_TOKEN"
	EnvBucket         = "S3_BUCKET"
	EnvRegion         = "AWS_REGION"
	EnvRegionEndpoint = "REGION_ENDPOINT"
)

const (
	// StorageClassNone leaves the storage class to the bucket default.
	StorageClassNone = "NONE"

	DefaultMaxRequestsPerSecond = 350
	// DefaultBurst is the burst allowed by the request rate limiter.
	DefaultBurst      = 10
	DefaultMaxRetries = 5
	// DefaultMaxConcurrency bounds concurrent calls per driver instance.
	DefaultMaxConcurrency = 25
	MinConcurrency        = 1
)

// Log levels accepted by the loglevel parameter. The v1 driver understands
// the first group, the v2 driver the second. Values of the v2 group may be
// combined with commas.
const (
	LogLevelOff                     = "logoff"
	LogLevelDebug                   = "logdebug"
	LogLevelDebugWithSigning        = "logdebugwithsigning"
	LogLevelDebugWithHTTPBody       = "logdebugwithhttpbody"
	LogLevelDebugWithRequestRetries = "logdebugwithrequestretries"
	LogLevelDebugWithRequestErrors  = "logdebugwithrequesterrors"

	LogSigning             = "logsigning"
	LogRetries             = "logretries"
	LogRequest             = "logrequest"
	LogRequestWithBody     = "logrequestwithbody"
	LogResponse            = "logresponse"
	LogResponseWithBody    = "logresponsewithbody"
	LogDeprecatedUsage     = "logdeprecatedusage"
	LogRequestEventMessage = "logrequesteventmessage"
)

var v1LogLevels = map[string]aws.LogLevelType{
	LogLevelOff:                     aws.LogOff,
	LogLevelDebug:                   aws.LogDebug,
	LogLevelDebugWithSigning:        aws.LogDebugWithSigning,
	LogLevelDebugWithHTTPBody:       aws.LogDebugWithHTTPBody,
	LogLevelDebugWithRequestRetries: aws.LogDebugWithRequestRetries,
	LogLevelDebugWithRequestErrors:  aws.LogDebugWithRequestErrors,
}

var v2LogModes = map[string]v2_aws.ClientLogMode{
	LogSigning:             v2_aws.LogSigning,
	LogRetries:             v2_aws.LogRetries,
	LogRequest:             v2_aws.LogRequest,
	LogRequestWithBody:     v2_aws.LogRequestWithBody,
	LogResponse:            v2_aws.LogResponse,
	LogResponseWithBody:    v2_aws.LogResponseWithBody,
	LogDeprecatedUsage:     v2_aws.LogDeprecatedUsage,
	LogRequestEventMessage: v2_aws.LogRequestEventMessage,
}

// DriverParameters is the parsed form of the storage.s3 configuration block.
type DriverParameters struct {
	AccessKey      string
	SecretKey      string
	SessionToken   string
	Bucket         string
	Region         string
	RegionEndpoint string
	Encrypt        bool
	KeyID          string
	Secure         bool
	SkipVerify     bool
	PathStyle      bool
	StorageClass   string

	MaxRequestsPerSecond int64
	MaxRetries           int64
	MaxConcurrency       uint64

	// LogLevel is an aws.LogLevelType for the v1 driver and an
	// aws.ClientLogMode for the v2 driver.
	LogLevel uint64
}

// ParseParameters validates parameters for the driver named driverName.
// Every invalid parameter is reported, not only the first one.
func ParseParameters(driverName string, parameters map[string]any) (*DriverParameters, error) {
	var result *multierror.Error

	params := &DriverParameters{
		AccessKey:      parse.String(parameters, ParamAccessKey, ""),
		SecretKey:      parse.String(parameters, ParamSecretKey, ""),
		SessionToken:   parse.String(parameters, ParamSessionToken, ""),
		Bucket:         parse.String(parameters, ParamBucket, ""),
		Region:         parse.String(parameters, ParamRegion, ""),
		RegionEndpoint: parse.String(parameters, ParamRegionEndpoint, ""),
		KeyID:          parse.String(parameters, ParamKeyID, ""),
	}

	if params.Region == "" {
		result = multierror.Append(result, errors.New("no \"region\" parameter provided"))
	} else if params.RegionEndpoint == "" && !knownRegion(params.Region) {
		result = multierror.Append(result, fmt.Errorf("validating region provided: %v", params.Region))
	}
	if params.Bucket == "" {
		result = multierror.Append(result, errors.New("no \"bucket\" parameter provided"))
	}

	var err error
	if params.Encrypt, err = parse.Bool(parameters, ParamEncrypt, false); err != nil {
		result = multierror.Append(result, err)
	}
	if params.Secure, err = parse.Bool(parameters, ParamSecure, true); err != nil {
		result = multierror.Append(result, err)
	}
	if params.SkipVerify, err = parse.Bool(parameters, ParamSkipVerify, false); err != nil {
		result = multierror.Append(result, err)
	}
	// custom endpoints are rarely reachable through virtual hosted buckets
	if params.PathStyle, err = parse.Bool(parameters, ParamPathStyle, params.RegionEndpoint != ""); err != nil {
		result = multierror.Append(result, err)
	}

	if params.MaxRequestsPerSecond, err = parse.Int64(parameters, ParamMaxRequestsPerSecond, DefaultMaxRequestsPerSecond, 0, 1<<20); err != nil {
		result = multierror.Append(result, err)
	}
	if params.MaxRetries, err = parse.Int64(parameters, ParamMaxRetries, DefaultMaxRetries, 0, 100); err != nil {
		result = multierror.Append(result, err)
	}

	concurrency, err := parse.Int64(parameters, ParamMaxConcurrency, DefaultMaxConcurrency, MinConcurrency, 1<<16)
	if err != nil {
		result = multierror.Append(result, err)
	}
	params.MaxConcurrency = uint64(concurrency) // nolint: gosec // bounded above

	if params.StorageClass, err = parseStorageClass(parameters); err != nil {
		result = multierror.Append(result, err)
	}

	if params.LogLevel, err = ParseLogLevelParam(driverName, parameters[ParamLogLevel]); err != nil {
		result = multierror.Append(result, err)
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return params, nil
}

func knownRegion(region string) bool {
	for _, p := range endpoints.DefaultPartitions() {
		if _, ok := p.Regions()[region]; ok {
			return true
		}
	}
	return false
}

// parseStorageClass falls back to STANDARD on unknown values unless strict
// storage class checking is enabled.
func parseStorageClass(parameters map[string]any) (string, error) {
	v, ok := parameters[ParamStorageClass]
	if !ok || v == nil {
		return s3.StorageClassStandard, nil
	}

	class, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("the storageclass parameter must be a string, got %T", v)
	}
	class = strings.ToUpper(class)

	if class == StorageClassNone || slices.Contains(s3.StorageClass_Values(), class) {
		return class, nil
	}

	if feature.StrictStorageClass.Enabled() {
		return "", fmt.Errorf("the storageclass parameter must be one of %v, %v invalid", append(s3.StorageClass_Values(), StorageClassNone), class)
	}

	log.GetLogger().WithFields(log.Fields{
		"storageclass": class,
		"default":      s3.StorageClassStandard,
	}).Warn("unknown storage class, using default")
	return s3.StorageClassStandard, nil
}

// ParseLogLevelParam converts the loglevel parameter into the numeric log
// setting of the SDK used by driverName.
func ParseLogLevelParam(driverName string, param any) (uint64, error) {
	if param == nil {
		return 0, nil
	}
	s, ok := param.(string)
	if !ok {
		return 0, fmt.Errorf("the loglevel parameter must be a string, got %T", param)
	}

	if driverName == V1DriverName {
		level, ok := v1LogLevels[strings.ToLower(s)]
		if !ok {
			return 0, fmt.Errorf("the loglevel parameter %q is not supported by the %s driver", s, driverName)
		}
		return uint64(level), nil
	}

	var mode v2_aws.ClientLogMode
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" || part == LogLevelOff {
			continue
		}
		m, ok := v2LogModes[part]
		if !ok {
			return 0, fmt.Errorf("the loglevel parameter %q is not supported by the %s driver", part, driverName)
		}
		mode |= m
	}
	return uint64(mode), nil
}
