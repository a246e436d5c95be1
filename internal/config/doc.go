// Package config provides configuration loading and validation for the hasciicam
// streaming server and client. It handles YAML-based configuration layered over
// built-in defaults.
package config
