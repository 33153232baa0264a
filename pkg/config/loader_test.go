package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadConfig_MergesEnvironmentOverBase(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
db:
  host: localhost
  port: 5432
dispatch:
  default_limit: 50
`)
	writeFile(t, dir, "production.yaml", `
db:
  host: db.internal
`)

	cfg, err := LoadConfig("production", dir)
	require.NoError(t, err)

	db := cfg["db"].(map[string]interface{})
	assert.Equal(t, "db.internal", db["host"])
	assert.Equal(t, 5432, db["port"])
	assert.Equal(t, 50, cfg["dispatch"].(map[string]interface{})["default_limit"])
}

func TestLoadConfig_MissingEnvFileIsIgnored(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "server:\n  port: \":8080\"\n")

	cfg, err := LoadConfig("staging", dir)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg["server"].(map[string]interface{})["port"])
}

func TestLoadConfig_MissingBaseFails(t *testing.T) {
	_, err := LoadConfig("local", t.TempDir())
	assert.Error(t, err)
}

func TestLoadConfig_SubstitutesSecretsAndEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
auth:
  cron_secret: ${JN_TEST_CRON_SECRET}
  admin_emails:
    - ${JN_TEST_ADMIN}
email:
  api_key: "${JN_TEST_API_KEY}"
`)
	writeFile(t, dir, "secrets.env", `
# comment
JN_TEST_CRON_SECRET="from-file"
JN_TEST_API_KEY='key-123'
JN_TEST_ADMIN=ops@example.com
`)
	t.Setenv("JN_TEST_CRON_SECRET", "from-env")

	cfg, err := LoadConfig("local", dir)
	require.NoError(t, err)

	auth := cfg["auth"].(map[string]interface{})
	assert.Equal(t, "from-env", auth["cron_secret"])
	assert.Equal(t, []interface{}{"ops@example.com"}, auth["admin_emails"])
	assert.Equal(t, "key-123", cfg["email"].(map[string]interface{})["api_key"])
}

func TestLoadInto_DecodesStruct(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
db:
  host: pg
  port: 6543
redis:
  addr: redis:6379
`)

	var out struct {
		DB    DBConfig    `yaml:"db"`
		Redis RedisConfig `yaml:"redis"`
	}
	require.NoError(t, LoadInto("local", dir, &out))
	assert.Equal(t, "pg", out.DB.Host)
	assert.Equal(t, 6543, out.DB.Port)
	assert.Equal(t, "redis:6379", out.Redis.Addr)
}

func TestOverrideFromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "override-host")
	t.Setenv("DB_PORT", "not-a-number")
	t.Setenv("REDIS_DB", "3")

	db := DBConfig{Host: "a", Port: 5432}
	OverrideDBFromEnv(&db)
	assert.Equal(t, "override-host", db.Host)
	assert.Equal(t, 5432, db.Port)

	var r RedisConfig
	OverrideRedisFromEnv(&r)
	assert.Equal(t, 3, r.DB)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a@x.com", "b@y.com"}, SplitList(" a@x.com, ,b@y.com "))
	assert.Nil(t, SplitList(""))
}
