// Package config loads and stores the syncctl configuration file.
//
// The file is TOML and lives at ~/.config/phidiasync/syncctl.toml unless
// --config says otherwise:
//
//	server_url = "http://127.0.0.1:8080"
//	timeout = "15s"
//	username = "admin"
//	token = "eyJhbGciOi..."
//
// A missing file is not an error: Load returns the defaults. login writes
// the token back with Save; logout clears it.
package config
