// Package config loads the configuration consumed by the license service.
//
// # Configuration Sources
//
// Values are layered in the following order, later layers winning:
//
//	1. Default() values
//	2. A YAML file (BOOTLICENSE_CONFIG, ./config.yaml or ./configs/config.yaml)
//	3. Environment variables
//
// # Environment Variables
//
// Every variable follows the pattern BOOTLICENSE_<SECTION>_<FIELD>:
//
//	BOOTLICENSE_SERVER_PORT=8765
//	BOOTLICENSE_API_BASE_URL=https://license.example.com
//	BOOTLICENSE_API_MAX_ATTEMPTS=3
//	BOOTLICENSE_LICENSE_OFFLINE_GRACE=72h
//	BOOTLICENSE_LOGGING_LEVEL=debug
//
// Relative file paths are resolved against the executable directory, never
// the working directory.
package config
