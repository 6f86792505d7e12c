package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/gally-search/pkg/middleware"
)

func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

func gallyCredentials(t *testing.T) {
	setEnvs(t, map[string]string{"GALLY_EMAIL": "admin@example.com", "GALLY_PASSWORD": "secret"})
}

func TestLoad_Defaults(t *testing.T) {
	gallyCredentials(t)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 8010, cfg.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, EngineGally, cfg.SearchEngine)
	assert.Equal(t, "http://localhost:8000", cfg.GallyURL)
	assert.Equal(t, JobStoreMemory, cfg.JobStore)
	assert.Equal(t, "1:b2c_en", cfg.WebsiteCatalogs)
	assert.Equal(t, 100, cfg.ChunkSize)
	assert.True(t, cfg.PageFullReindex)
	assert.False(t, cfg.DisableGranularizationCache)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []string{"category__id", "brand"}, cfg.Facets)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Nil(t, cfg.Clients())
}

func TestLoad_GallyRequiresCredentials(t *testing.T) {
	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GALLY_EMAIL and GALLY_PASSWORD are required")
}

func TestLoad_MemoryEngineNeedsNoCredentials(t *testing.T) {
	t.Setenv("SEARCH_ENGINE", "memory")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, EngineMemory, cfg.SearchEngine)
}

func TestLoad_Overrides(t *testing.T) {
	setEnvs(t, map[string]string{
		"SEARCH_ENGINE":                 "elasticsearch",
		"ELASTICSEARCH_URL":             "http://es.prod:9200",
		"JOB_STORE":                     "postgres",
		"WEBSITE_CATALOGS":              "1:b2c_en,1:b2c_fr,2:b2b_en",
		"CHUNK_SIZE":                    "250",
		"DISABLE_GRANULARIZATION_CACHE": "true",
		"KAFKA_BROKERS":                 "k1:9092,k2:9092",
		"API_KEYS":                      "backoffice:tok-1,erp:tok-2",
		"PPROF_ALLOWED_CIDRS":           "10.0.0.0/8,127.0.0.1/32",
		"SEARCH_CACHE_MAX_AGE":          "60",
	})

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "http://es.prod:9200", cfg.ElasticsearchURL)
	assert.Equal(t, JobStorePostgres, cfg.JobStore)
	assert.Equal(t, "1:b2c_en,1:b2c_fr,2:b2b_en", cfg.WebsiteCatalogs)
	assert.Equal(t, 250, cfg.ChunkSize)
	assert.True(t, cfg.DisableGranularizationCache)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1/32"}, cfg.PprofAllowedCIDRs)
	assert.Equal(t, 60, cfg.SearchCacheMaxAge)
	assert.Equal(t, middleware.APIKeys{"tok-1": "backoffice", "tok-2": "erp"}, cfg.Clients())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		envs map[string]string
		want string
	}{
		{"http port", map[string]string{"HTTP_PORT": "0"}, "invalid HTTP port"},
		{"engine", map[string]string{"SEARCH_ENGINE": "solr"}, "SEARCH_ENGINE must be one of"},
		{"job store", map[string]string{"JOB_STORE": "mongo"}, "JOB_STORE must be one of"},
		{"chunk size", map[string]string{"CHUNK_SIZE": "0"}, "CHUNK_SIZE must be positive"},
		{"sample rate", map[string]string{"OTEL_SAMPLE_RATE": "2.0"}, "OTEL_SAMPLE_RATE must be between 0.0 and 1.0"},
		{"not a number", map[string]string{"CHUNK_SIZE": "many"}, "load search config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gallyCredentials(t)
			setEnvs(t, tt.envs)

			cfg, err := Load()

			assert.Nil(t, cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := &Config{HTTPPort: 70000, SearchEngine: "memory", JobStore: "disk", ChunkSize: 1, WebsiteCatalogs: "1:x"}

	err := cfg.validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTP port")
	assert.Contains(t, err.Error(), "JOB_STORE")
	assert.Contains(t, err.Error(), "KAFKA_BROKERS is required")
}
