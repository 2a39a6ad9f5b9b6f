package feature

import "os"

// Feature defines an application feature toggled by a specific environment variable.
type Feature struct {
	// EnvVariable defines the name of the corresponding environment variable.
	EnvVariable    string
	defaultEnabled bool
}

// Enabled reads the environment variable responsible for the feature flag. If FF is disabled by default, the
// environment variable needs to be `true` to explicitly enable it. If FF is enabled by default, variable needs to be
// `false` to explicitly disable it.
func (f Feature) Enabled() bool {
	env := os.Getenv(f.EnvVariable)

	if f.defaultEnabled {
		return env != "false"
	}

	return env == "true"
}

// CopyCancelSiblings is used to cancel the in-flight part copies of a multipart copy as soon as one of its parts fails
// terminally. When disabled, part copies already handed to the executor run to completion before the session is
// aborted.
var CopyCancelSiblings = Feature{
	defaultEnabled: true,
	EnvVariable:    "S3FS_FF_COPY_CANCEL_SIBLINGS",
}

// StrictStorageClass turns an unknown storage class in the transfer configuration into a configuration error. By
// default an unknown class is logged and the store default is used instead.
var StrictStorageClass = Feature{
	EnvVariable: "S3FS_FF_STRICT_STORAGE_CLASS",
}

// testFeature is used for testing purposes only
var testFeature = Feature{
	EnvVariable: "S3FS_FF_TEST",
}

var all = []Feature{
	testFeature,
	CopyCancelSiblings,
	StrictStorageClass,
}

// KnownEnvVar evaluates whether the input string matches the name of one of the known feature flag env vars.
func KnownEnvVar(name string) bool {
	for _, f := range all {
		if f.EnvVariable == name {
			return true
		}
	}

	return false
}
