package license

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bootlicense/internal/shared/testutil"
)

func TestLicenseKeyNeverLogged(t *testing.T) {
	logger, logs := testutil.NewLogger(nil)
	f := newEngineFixture(t, nil, func(o *Options) { o.Logger = logger })

	_, err := f.engine.Activate(context.Background(), testKey)
	require.Error(t, err)

	f.authority.activate = func(LicenseRequest) (*RemoteLicense, error) {
		return activeLicense(testStart), nil
	}
	_, err = f.engine.Activate(context.Background(), testKey)
	require.NoError(t, err)

	_, err = f.engine.Validate(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, logs.GetRecords())
	assert.True(t, logs.ContainsAttr("license_key_masked", MaskLicenseKey(testKey)))
	assert.True(t, logs.ContainsAttr("license_key_hash", hashLicenseKey(testKey)))
	logs.AssertNeverLogged(t, testKey)
}

func TestMaskLicenseKey(t *testing.T) {
	assert.Equal(t, "BOOT****1234", MaskLicenseKey(testKey))
	assert.Equal(t, "****", MaskLicenseKey("BOOT-1"))
	assert.Equal(t, "****", MaskLicenseKey(""))
}
