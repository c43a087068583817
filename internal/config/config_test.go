package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"TIMEZONE", "SCAN_INTERVAL", "COURT_MAPPING", "ADMIN_RECIPIENT_ID", "PREFETCH_CRON"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Dubai", cfg.Location.String())
	assert.Equal(t, 5*time.Minute, cfg.ScanInterval)
	assert.Equal(t, 30*time.Second, cfg.SignalWait)
	assert.Equal(t, 3*time.Minute, cfg.DeadlineLead)
	assert.Equal(t, "55 23 * * *", cfg.PrefetchCron)
	assert.Equal(t, map[int]string{4: "a5Y1n000000eVcpEAE"}, cfg.Court.Courts)
	assert.Equal(t, 2, cfg.Court.Guests)
	assert.Zero(t, cfg.AdminRecipientID)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("SCAN_INTERVAL", "1m")
	t.Setenv("COURT_MAPPING", "3=amenity-3, 4=amenity-4")
	t.Setenv("COURT_USERNAME", "  jane ")
	t.Setenv("ADMIN_RECIPIENT_ID", "12345")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Equal(t, time.Minute, cfg.ScanInterval)
	assert.Equal(t, []int{3, 4}, cfg.CourtNumbers())
	assert.Equal(t, "jane", cfg.Court.Username)
	assert.Equal(t, int64(12345), cfg.AdminRecipientID)
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	testCases := map[string]string{
		"TIMEZONE":           "Mars/Olympus",
		"SCAN_INTERVAL":      "often",
		"COURT_MAPPING":      "three=abc",
		"ADMIN_RECIPIENT_ID": "admin",
	}
	for key, value := range testCases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := FromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestParseCourtMapping(t *testing.T) {
	t.Parallel()

	got, err := ParseCourtMapping("3=a,4=b,")
	require.NoError(t, err)
	assert.Equal(t, map[int]string{3: "a", 4: "b"}, got)

	for _, bad := range []string{"", "3", "0=a", "3=", "3=a,3=b"} {
		_, err := ParseCourtMapping(bad)
		assert.Error(t, err, bad)
	}
}

func TestCookieKeys(t *testing.T) {
	t.Parallel()

	_, _, err := Config{}.CookieKeys()
	require.Error(t, err)

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	path := filepath.Join(t.TempDir(), "block.key")
	require.NoError(t, os.WriteFile(path, []byte(encoded+"\n"), 0o600))

	hash, block, err := Config{cookieHashKey: encoded, cookieBlockKey: path}.CookieKeys()
	require.NoError(t, err)
	assert.Equal(t, key, hash)
	assert.Equal(t, key, block)
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	t.Parallel()

	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
}
