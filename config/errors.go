// Package config provides error definitions for configuration management
package config

import "errors"

// Configuration validation errors
var (
	ErrInvalidAppName        = errors.New("invalid application name")
	ErrInvalidEnvironment    = errors.New("invalid environment")
	ErrInvalidLogLevel       = errors.New("invalid log level")
	ErrInvalidLogOutput      = errors.New("invalid log output")
	ErrInvalidRanks          = errors.New("invalid rank count")
	ErrInvalidThreads        = errors.New("invalid thread count")
	ErrInvalidPowRange       = errors.New("invalid power range")
	ErrInvalidGenerations    = errors.New("invalid generation budget")
	ErrInvalidMaxCells       = errors.New("invalid max cells")
	ErrInvalidTransport      = errors.New("invalid transport")
	ErrInvalidPeers          = errors.New("invalid peer list")
	ErrInvalidPort           = errors.New("invalid port number")
	ErrInvalidMaxConcurrent  = errors.New("invalid max concurrent jobs")
	ErrInvalidMaxConnections = errors.New("invalid max connections")
)

// Configuration loading errors
var (
	ErrConfigFileNotFound  = errors.New("configuration file not found")
	ErrConfigParseError    = errors.New("configuration parse error")
	ErrConfigValidateError = errors.New("configuration validation error")
	ErrEnvironmentVarError = errors.New("environment variable error")
)
