package feature

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnabled(t *testing.T) {
	testCases := []struct {
		name     string
		feature  Feature
		envVal   string
		expected bool
	}{
		{name: "cancel siblings unset", feature: CopyCancelSiblings, expected: true},
		{name: "cancel siblings disabled", feature: CopyCancelSiblings, envVal: "false"},
		{name: "cancel siblings garbage keeps default", feature: CopyCancelSiblings, envVal: "no", expected: true},
		{name: "strict storage class unset", feature: StrictStorageClass},
		{name: "strict storage class enabled", feature: StrictStorageClass, envVal: "true", expected: true},
		{name: "strict storage class garbage keeps default", feature: StrictStorageClass, envVal: "1"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(tt *testing.T) {
			tt.Setenv(tc.feature.EnvVariable, tc.envVal)
			require.Equal(tt, tc.expected, tc.feature.Enabled())
		})
	}
}

func TestKnownEnvVar(t *testing.T) {
	for _, f := range all {
		require.True(t, KnownEnvVar(f.EnvVariable), f.EnvVariable)
	}

	require.False(t, KnownEnvVar("S3FS_FF_"))
	require.False(t, KnownEnvVar("S3FS_FF_copy_cancel_siblings"))
	require.False(t, KnownEnvVar(testFeature.EnvVariable+"_EXTRA"))
}
