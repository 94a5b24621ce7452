package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/convivencia/phidiasync/internal/flagx"
	"github.com/convivencia/phidiasync/internal/timex"
)

// JsonConfig is the on-disk shape of the server config file. Durations use
// timex.Duration so both "15s" and integer nanoseconds are accepted. Fields
// left out of the file keep their current value.
type JsonConfig struct {
	HTTPAddr                    *string         `json:"http_addr"`
	GRPCAddr                    *string         `json:"grpc_addr"`
	DatabaseDSN                 *string         `json:"database_dsn"`
	SecretKey                   *string         `json:"secret_key"`
	AccessTokenValidityDuration *timex.Duration `json:"access_token_validity_duration"`
	RedisAddr                   *string         `json:"redis_addr"`
	RedisPassword               *string         `json:"redis_password"`
	PhidiasBaseURL              *string         `json:"phidias_base_url"`
	PhidiasToken                *string         `json:"phidias_token"`
	PhidiasPageSize             *int            `json:"phidias_page_size"`
	PhidiasFetchTimeout         *timex.Duration `json:"phidias_fetch_timeout"`
	PhidiasMaxRetries           *int            `json:"phidias_max_retries"`
	PhidiasRetryBaseDelay       *timex.Duration `json:"phidias_retry_base_delay"`
	SyncInterval                *timex.Duration `json:"sync_interval"`
	SyncWorkers                 *int            `json:"sync_workers"`
	HeartbeatInterval           *timex.Duration `json:"heartbeat_interval"`
	StaleRunAfter               *timex.Duration `json:"stale_run_after"`
	SecureCookie                *bool           `json:"secure_cookie"`
	TrustProxyHeaders           *bool           `json:"trust_proxy_headers"`
	S3RootUser                  *string         `json:"s3_root_user"`
	S3RootPassword              *string         `json:"s3_root_password"`
	S3Bucket                    *string         `json:"s3_bucket"`
	S3Region                    *string         `json:"s3_region"`
	S3BaseEndpoint              *string         `json:"s3_base_endpoint"`
	BootstrapAdminUser          *string         `json:"bootstrap_admin_user"`
	BootstrapAdminPassword      *string         `json:"bootstrap_admin_password"`
}

// parseJson overlays values from the file named by -c/-config. Without the
// flag nothing is loaded. An unreadable or invalid file panics: the server
// must not start on a half-applied configuration.
func parseJson(config *Config, args []string) {
	path := flagx.ConfigFile(args)
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.GRPCAddr, c.GRPCAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.RedisPassword, c.RedisPassword)
	setString(&config.PhidiasBaseURL, c.PhidiasBaseURL)
	setString(&config.PhidiasToken, c.PhidiasToken)
	setInt(&config.PhidiasPageSize, c.PhidiasPageSize)
	setDuration(&config.PhidiasFetchTimeout, c.PhidiasFetchTimeout)
	setInt(&config.PhidiasMaxRetries, c.PhidiasMaxRetries)
	setDuration(&config.PhidiasRetryBaseDelay, c.PhidiasRetryBaseDelay)
	setDuration(&config.SyncInterval, c.SyncInterval)
	setInt(&config.SyncWorkers, c.SyncWorkers)
	setDuration(&config.HeartbeatInterval, c.HeartbeatInterval)
	setDuration(&config.StaleRunAfter, c.StaleRunAfter)
	setBool(&config.SecureCookie, c.SecureCookie)
	setBool(&config.TrustProxyHeaders, c.TrustProxyHeaders)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.BootstrapAdminUser, c.BootstrapAdminUser)
	setString(&config.BootstrapAdminPassword, c.BootstrapAdminPassword)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
