package config

import (
	"maps"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimalRequiredConfig is empty: every setting has a usable default so the
// tools start with no environment at all.
func minimalRequiredConfig() map[string]string {
	return map[string]string{}
}

// mergeEnvVars merges additional env vars with minimal required config
func mergeEnvVars(additional map[string]string) map[string]string {
	result := minimalRequiredConfig()
	maps.Copy(result, additional)
	return result
}

// validProductionConfig returns a complete valid production configuration
// using the Redis storage backend.
func validProductionConfig() map[string]string {
	return map[string]string{
		"APPTENTIVE_APP_ENV": "production",

		"APPTENTIVE_API_BASE_URL":      "https://api.example.com",
		"APPTENTIVE_API_APP_KEY":       "IOS-ACME-123",
		"APPTENTIVE_API_APP_SIGNATURE": "sig-456",

		"APPTENTIVE_STORAGE_BACKEND": "redis",

		"APPTENTIVE_REDIS_HOST":        "prod-redis.example.com",
		"APPTENTIVE_REDIS_PORT":        "6379",
		"APPTENTIVE_REDIS_PASSWORD":    "RedisSecure123!",
		"APPTENTIVE_REDIS_TLS_ENABLED": "true",
	}
}

func runLoadCases(t *testing.T, tests []loadCase) {
	t.Helper()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// t.Setenv prevents parallel execution and cleans up after the test
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load()

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			if tt.want != nil {
				tt.want(t, cfg)
			}
		})
	}
}

type loadCase struct {
	name    string
	envVars map[string]string
	want    func(t *testing.T, cfg *Config)
	wantErr bool
}

func TestLoad(t *testing.T) {
	runLoadCases(t, []loadCase{
		{
			name:    "Should use defaults when no env vars are set",
			envVars: minimalRequiredConfig(),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "apptentivekit", cfg.App.Name)
				assert.Equal(t, "dev", cfg.App.Version)
				assert.Equal(t, "development", cfg.App.Environment)
				assert.Equal(t, "info", cfg.App.LogLevel)
				assert.Equal(t, "text", cfg.App.LogFormat)
				assert.Equal(t, "https://api.apptentive.com", cfg.API.BaseURL)
				assert.Equal(t, 30*time.Second, cfg.API.Timeout)
				assert.Equal(t, StorageBackendSQLite, cfg.Storage.Backend)
				assert.Equal(t, time.Second, cfg.Sender.BaseBackoff)
				assert.Equal(t, 5*time.Minute, cfg.Sender.MaxBackoff)
				assert.InDelta(t, 2.0, cfg.Sender.Multiplier, 1e-9)
				assert.Equal(t, 600*time.Second, cfg.Manifest.MinExpiry)
				assert.Equal(t, "8080", cfg.MockAPI.Port)
				assert.False(t, cfg.Redis.IsConfigured())
			},
		},
		{
			name: "Should load all custom environment variables correctly",
			envVars: mergeEnvVars(map[string]string{
				"APPTENTIVE_APP_NAME":              "ctl",
				"APPTENTIVE_APP_ENV":               "staging",
				"APPTENTIVE_APP_LOG_LEVEL":         "debug",
				"APPTENTIVE_APP_LOG_FORMAT":        "json",
				"APPTENTIVE_API_BASE_URL":          "http://localhost:8080",
				"APPTENTIVE_API_APP_KEY":           "key",
				"APPTENTIVE_API_APP_SIGNATURE":     "sig",
				"APPTENTIVE_STORAGE_DIR":           "/tmp/sdk",
				"APPTENTIVE_SENDER_BASE_BACKOFF":   "250ms",
				"APPTENTIVE_SENDER_MAX_BACKOFF":    "10s",
				"APPTENTIVE_SENDER_JITTER":         "0",
				"APPTENTIVE_MANIFEST_MIN_EXPIRY":   "15m",
				"APPTENTIVE_MOCKAPI_MAX_AGE":       "1h",
				"APPTENTIVE_MOCKAPI_MANIFEST_PATH": "testdata/manifest.json",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "ctl", cfg.App.Name)
				assert.Equal(t, "staging", cfg.App.Environment)
				assert.Equal(t, "json", cfg.App.LogFormat)
				assert.Equal(t, "http://localhost:8080", cfg.API.BaseURL)
				assert.Equal(t, "key", cfg.API.AppKey)
				assert.Equal(t, "/tmp/sdk/apptentive.db", cfg.Storage.DatabasePath())
				assert.Equal(t, 250*time.Millisecond, cfg.Sender.BaseBackoff)
				assert.Equal(t, 10*time.Second, cfg.Sender.MaxBackoff)
				assert.Zero(t, cfg.Sender.Jitter)
				assert.Equal(t, 15*time.Minute, cfg.Manifest.MinExpiry)
				assert.Equal(t, time.Hour, cfg.MockAPI.MaxAge)
				assert.Equal(t, "testdata/manifest.json", cfg.MockAPI.ManifestPath)
			},
		},
		{
			name:    "Should accept a complete production configuration",
			envVars: validProductionConfig(),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, StorageBackendRedis, cfg.Storage.Backend)
				assert.True(t, cfg.Redis.IsConfigured())
			},
		},
		{
			name:    "Should fail validation on invalid environment value",
			envVars: mergeEnvVars(map[string]string{"APPTENTIVE_APP_ENV": "invalid"}),
			wantErr: true,
		},
		{
			name:    "Should fail validation on invalid log level",
			envVars: mergeEnvVars(map[string]string{"APPTENTIVE_APP_LOG_LEVEL": "trace"}),
			wantErr: true,
		},
		{
			name:    "Should fail validation on invalid storage backend",
			envVars: mergeEnvVars(map[string]string{"APPTENTIVE_STORAGE_BACKEND": "postgres"}),
			wantErr: true,
		},
		{
			name:    "Should fail validation when redis backend has no redis",
			envVars: mergeEnvVars(map[string]string{"APPTENTIVE_STORAGE_BACKEND": "redis"}),
			wantErr: true,
		},
		{
			name:    "Should fail validation on non-http base URL",
			envVars: mergeEnvVars(map[string]string{"APPTENTIVE_API_BASE_URL": "ftp://api.example.com"}),
			wantErr: true,
		},
		{
			name: "Should fail validation on plain http in production",
			envVars: func() map[string]string {
				cfg := validProductionConfig()
				cfg["APPTENTIVE_API_BASE_URL"] = "http://api.example.com"
				return cfg
			}(),
			wantErr: true,
		},
		{
			name:    "Should fail validation when only the app key is set",
			envVars: mergeEnvVars(map[string]string{"APPTENTIVE_API_APP_KEY": "key"}),
			wantErr: true,
		},
		{
			name:    "Should fail validation on app key with whitespace",
			envVars: mergeEnvVars(map[string]string{"APPTENTIVE_API_APP_KEY": "a key", "APPTENTIVE_API_APP_SIGNATURE": "sig"}),
			wantErr: true,
		},
		{
			name:    "Should fail validation when max backoff is below base",
			envVars: mergeEnvVars(map[string]string{"APPTENTIVE_SENDER_BASE_BACKOFF": "10s", "APPTENTIVE_SENDER_MAX_BACKOFF": "1s"}),
			wantErr: true,
		},
		{
			name:    "Should fail validation on jitter above one",
			envVars: mergeEnvVars(map[string]string{"APPTENTIVE_SENDER_JITTER": "1.5"}),
			wantErr: true,
		},
		{
			name:    "Should fail validation on multiplier below one",
			envVars: mergeEnvVars(map[string]string{"APPTENTIVE_SENDER_MULTIPLIER": "0.5"}),
			wantErr: true,
		},
		{
			name:    "Should fail validation on invalid mock api port",
			envVars: mergeEnvVars(map[string]string{"APPTENTIVE_MOCKAPI_PORT": "http"}),
			wantErr: true,
		},
	})
}
