package config

import (
	"flag"
	"time"

	"github.com/convivencia/phidiasync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-g string   gRPC bind address (e.g., ":50051")
//	-d string   PostgreSQL DSN
//	-s string   session token HMAC secret key
//	-t int      session token validity, minutes
//	-r string   Redis address for the revocation set
//	-u string   Phidias base URL
//	-k string   Phidias API token
//	-p int      Phidias page size
//	-i int      scheduled sync interval, minutes (0 disables)
//	-w int      parallel record writers per page
//	-b string   S3 bucket for run reports
//	-e string   S3 base endpoint
//	-secure-cookie      mark the session cookie Secure
//	-trust-proxy        honour X-Forwarded-For / X-Real-IP
//
// Duration flags are whole minutes. Boolean flags take a value only in the
// -flag=value form.
func parseFlags(config *Config, args []string) {
	args = flagx.FilterArgs(args, []string{"-a", "-g", "-d", "-s", "-t", "-r", "-u", "-k", "-p", "-i", "-w", "-b", "-e",
		"-secure-cookie", "-trust-proxy"})

	fs := flag.NewFlagSet("server", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "HTTP address and port")
	fs.StringVar(&config.GRPCAddr, "g", config.GRPCAddr, "gRPC address and port")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	tokenValidity := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "session token validity (in minutes)")
	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "redis address")
	fs.StringVar(&config.PhidiasBaseURL, "u", config.PhidiasBaseURL, "Phidias base URL")
	fs.StringVar(&config.PhidiasToken, "k", config.PhidiasToken, "Phidias API token")
	fs.IntVar(&config.PhidiasPageSize, "p", config.PhidiasPageSize, "Phidias page size")
	syncInterval := fs.Int("i", int(config.SyncInterval.Minutes()), "scheduled sync interval (in minutes, 0 disables)")
	fs.IntVar(&config.SyncWorkers, "w", config.SyncWorkers, "parallel record writers per page")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket for run reports")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.BoolVar(&config.SecureCookie, "secure-cookie", config.SecureCookie, "mark the session cookie Secure")
	fs.BoolVar(&config.TrustProxyHeaders, "trust-proxy", config.TrustProxyHeaders, "honour X-Forwarded-For and X-Real-IP")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*tokenValidity) * time.Minute
	config.SyncInterval = time.Duration(*syncInterval) * time.Minute
}
