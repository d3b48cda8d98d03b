package config

import "time"

// Application constants
const (
	AppName    = "BootCasosV2"
	AppVersion = "1.0.0"

	DefaultServerPort       = 8765
	DefaultLicenseServerURL = "https://license.bootcasos.example"

	// Paths relative to the executable
	DefaultStoreFile = "data/license.dat"
	DefaultLogFile   = "logs/app.log"

	DefaultLogLevel = "info"

	DefaultOfflineGrace         = 72 * time.Hour
	DefaultRevalidationInterval = time.Hour

	DefaultAPITimeout  = 30 * time.Second
	DefaultAPIAttempts = 3

	LicenseKeyPrefix = "BOOT-"
)

// Built-in key material. Deployments override these through the
// environment or the config file.
const (
	defaultAppSecret    = "BootCasosV2-Local-Store-2024"
	defaultCodePassword = "BootCasosV2_License_Key_2024"
	defaultCodeSalt     = "boot_casos_v2_salt_2024"
)

// URL paths served on the loopback surface
const (
	LicenseEndpoint   = "/api/license"
	WebSocketEndpoint = "/ws"
	HealthEndpoint    = "/healthz"
	MetricsEndpoint   = "/metrics"
)
