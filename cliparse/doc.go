// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package cliparse handles command-line argument parsing and configuration.

# Configuration

ParseFlags returns a Config struct with all settings:

	cfg, err := cliparse.ParseFlags(os.Args[1:])

main loads a .env file (godotenv) before calling ParseFlags, so values from
.env behave exactly like exported environment variables.

# CLI Flags

	-p                Server port
	-d                Database URL
	-t                Database type (sqlite or postgres)
	-uploads          Upload directory
	-tls-cert         TLS certificate file
	-tls-key          TLS key file
	-session-secret   Session secret

# Environment Variables

Flags fall back to environment variables:

	PORT           → -p              (default 3318)
	DATABASE_URL   → -d              (default quickform.db for sqlite)
	DATABASE_TYPE  → -t              (default sqlite)
	UPLOAD_DIR     → -uploads        (default uploads)
	TLS_CERT       → -tls-cert
	TLS_KEY        → -tls-key
	SESSION_SECRET → -session-secret (required)

Environment-only settings:

  - IP_HASH_SALT: salt for stored submitter IP hashes (default SESSION_SECRET)
  - MAX_UPLOAD_MB: upload size limit (default 16)
  - PUBLIC_BASE_URL: base URL used in links returned by the API
  - MAIL_SERVER, MAIL_PORT, MAIL_USERNAME, MAIL_PASSWORD, MAIL_USE_TLS
  - CHAT_SERVER_API_URL, CHAT_SERVER_API_TOKEN: default AI endpoint
  - ADMIN_USERNAME, ADMIN_PASSWORD, ADMIN_EMAIL: bootstrap admin account
  - DEFAULT_TASK_LIMIT: task quota for new users (default 5, -1 unlimited)
*/
package cliparse
