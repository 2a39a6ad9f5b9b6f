package azure

import (
	"errors"
	"fmt"
	"strings"
	"time"

	azlog "github.com/Azure/azure-sdk-for-go/sdk/azcore/log"
	"github.com/hashicorp/go-multierror"
	"github.com/tigrisdata/s3fs/storage/driver/internal/parse"
)

const DriverName = "azure"

const (
	ParamAccountName     = "accountname"
	ParamAccountKey      = "accountkey"
	ParamContainer       = "container"
	ParamRealm           = "realm"
	ParamServiceURL      = "serviceurl"
	ParamCredentialsType = "credentialstype"
	ParamTenantID        = "tenantid"
	ParamClientID        = "clientid"
	ParamSecret          = "secret"
	ParamMaxRetries      = "maxretries"
	ParamRetryTryTimeout = "retrytrytimeout"
	ParamRetryDelay      = "retrydelay"
	ParamMaxRetryDelay   = "maxretrydelay"
	ParamDebugLog        = "debuglog"
	ParamDebugLogEvents  = "debuglogevents"
	ParamMaxConcurrency  = "maxconcurrency"
)

const (
	CredentialsTypeSharedKey          = "shared_key"
	CredentialsTypeClientSecret       = "client_secret"
	CredentialsTypeDefaultCredentials = "default_credentials"
)

const (
	DefaultRealm          = "core.windows.net"
	DefaultMaxRetries     = 5
	DefaultRetryDelay     = 100 * time.Millisecond
	DefaultMaxRetryDelay  = 5 * time.Second
	DefaultMaxConcurrency = 25
)

// DriverParameters holds the validated configuration of the azure driver.
type DriverParameters struct {
	CredentialsType string
	AccountName     string
	AccountKey      string
	TenantID        string
	ClientID        string
	Secret          string

	Container  string
	Realm      string
	ServiceURL string

	MaxRetries      int32
	RetryTryTimeout time.Duration
	RetryDelay      time.Duration
	MaxRetryDelay   time.Duration

	DebugLog       bool
	DebugLogEvents []azlog.Event

	MaxConcurrency uint64
}

// ParseParameters validates parameters. Every invalid parameter is
// reported, not only the first one.
func ParseParameters(parameters map[string]any) (*DriverParameters, error) {
	var result *multierror.Error

	params := &DriverParameters{
		CredentialsType: parse.String(parameters, ParamCredentialsType, CredentialsTypeSharedKey),
		AccountName:     parse.String(parameters, ParamAccountName, ""),
		AccountKey:      parse.String(parameters, ParamAccountKey, ""),
		TenantID:        parse.String(parameters, ParamTenantID, ""),
		ClientID:        parse.String(parameters, ParamClientID, ""),
		Secret:          parse.String(parameters, ParamSecret, ""),
		Container:       parse.String(parameters, ParamContainer, ""),
		Realm:           parse.String(parameters, ParamRealm, DefaultRealm),
	}

	if params.AccountName == "" {
		result = multierror.Append(result, fmt.Errorf("no %s parameter provided", ParamAccountName))
	}
	if params.Container == "" {
		result = multierror.Append(result, fmt.Errorf("no %s parameter provided", ParamContainer))
	}

	switch params.CredentialsType {
	case CredentialsTypeSharedKey:
		if params.AccountKey == "" {
			result = multierror.Append(result, fmt.Errorf("no %s parameter provided", ParamAccountKey))
		}
	case CredentialsTypeClientSecret:
		for name, v := range map[string]string{
			ParamTenantID: params.TenantID,
			ParamClientID: params.ClientID,
			ParamSecret:   params.Secret,
		} {
			if v == "" {
				result = multierror.Append(result, fmt.Errorf("no %s parameter provided", name))
			}
		}
	case CredentialsTypeDefaultCredentials:
	default:
		result = multierror.Append(result, fmt.Errorf("invalid %s parameter: %q", ParamCredentialsType, params.CredentialsType))
	}

	params.ServiceURL = parse.String(parameters, ParamServiceURL, fmt.Sprintf("https://%s.blob.%s", params.AccountName, params.Realm))

	maxRetries, err := parse.Int64(parameters, ParamMaxRetries, DefaultMaxRetries, 0, 100)
	if err != nil {
		result = multierror.Append(result, err)
	}
	params.MaxRetries = int32(maxRetries) // nolint: gosec // bounded above

	if params.RetryTryTimeout, err = parse.Duration(parameters, ParamRetryTryTimeout, 0); err != nil {
		result = multierror.Append(result, err)
	}
	if params.RetryDelay, err = parse.Duration(parameters, ParamRetryDelay, DefaultRetryDelay); err != nil {
		result = multierror.Append(result, err)
	}
	if params.MaxRetryDelay, err = parse.Duration(parameters, ParamMaxRetryDelay, DefaultMaxRetryDelay); err != nil {
		result = multierror.Append(result, err)
	}
	if params.RetryDelay > params.MaxRetryDelay {
		result = multierror.Append(result, fmt.Errorf("%s must not be greater than %s", ParamRetryDelay, ParamMaxRetryDelay))
	}

	if params.DebugLog, err = parse.Bool(parameters, ParamDebugLog, false); err != nil {
		result = multierror.Append(result, err)
	}
	if params.DebugLogEvents, err = parseLogEvents(parse.String(parameters, ParamDebugLogEvents, "")); err != nil {
		result = multierror.Append(result, err)
	}

	concurrency, err := parse.Int64(parameters, ParamMaxConcurrency, DefaultMaxConcurrency, 1, 1<<16)
	if err != nil {
		result = multierror.Append(result, err)
	}
	params.MaxConcurrency = uint64(concurrency) // nolint: gosec // bounded below

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return params, nil
}

var logEvents = map[string]azlog.Event{
	"request":              azlog.EventRequest,
	"response":             azlog.EventResponse,
	"responseerror":        azlog.EventResponseError,
	"retry":                azlog.EventRetryPolicy,
	"longrunningoperation": azlog.EventLRO,
}

// parseLogEvents parses a comma separated list of SDK log events. An empty
// list logs every event.
func parseLogEvents(s string) ([]azlog.Event, error) {
	if s == "" {
		return nil, nil
	}

	var events []azlog.Event
	for _, name := range strings.Split(s, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		e, ok := logEvents[name]
		if !ok {
			return nil, errors.New("unknown debug log event: " + name)
		}
		events = append(events, e)
	}
	return events, nil
}
