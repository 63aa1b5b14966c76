// Package config provides configuration management for lifegrid
package config

import (
	"net"
	"strconv"
	"time"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	return string(l)
}

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelTrace, LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelFatal:
		return true
	default:
		return false
	}
}

// Transport selects how the ranks of a job talk to each other
type Transport string

const (
	// TransportLocal runs every rank as a goroutine of one process
	TransportLocal Transport = "local"

	// TransportTCP runs one process per rank joined by TCP
	TransportTCP Transport = "tcp"
)

// IsValid checks if the transport is known
func (t Transport) IsValid() bool {
	return t == TransportLocal || t == TransportTCP
}

// Config represents the complete lifegrid configuration
type Config struct {
	// Application configuration
	App AppConfig `yaml:"app" json:"app" envPrefix:"APP_"`

	// Logging configuration
	Log LogConfig `yaml:"log" json:"log" envPrefix:"LOG_"`

	// Simulation configuration
	Engine EngineConfig `yaml:"engine" json:"engine" envPrefix:"ENGINE_"`

	// Rank mesh configuration
	Network NetworkConfig `yaml:"network" json:"network" envPrefix:"NETWORK_"`

	// Engine service configuration
	Service ServiceConfig `yaml:"service" json:"service" envPrefix:"SERVICE_"`

	// Result persistence configuration
	Store StoreConfig `yaml:"store" json:"store" envPrefix:"STORE_"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	// Application name
	Name string `yaml:"name" json:"name" env:"NAME"`

	// Application version
	Version string `yaml:"version" json:"version" env:"VERSION"`

	// Deployment environment
	Environment Environment `yaml:"environment" json:"environment" env:"ENVIRONMENT"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	// Log level
	Level LogLevel `yaml:"level" json:"level" env:"LEVEL"`

	// Output destination (stdout, stderr, file path)
	Output string `yaml:"output" json:"output" env:"OUTPUT"`
}

// EngineConfig contains the parameters of a simulation job
type EngineConfig struct {
	// Number of ranks the board is split across
	Ranks int `yaml:"ranks" json:"ranks" env:"RANKS"`

	// Kernel threads per rank, 0 means one per CPU
	Threads int `yaml:"threads" json:"threads" env:"THREADS"`

	// Board sizes run from 2^PowMin to 2^PowMax
	PowMin int `yaml:"pow_min" json:"pow_min" env:"POW_MIN"`
	PowMax int `yaml:"pow_max" json:"pow_max" env:"POW_MAX"`

	// Generations per board are StepsPerUnit*(size-StepOffset)
	StepsPerUnit int `yaml:"steps_per_unit" json:"steps_per_unit" env:"STEPS_PER_UNIT"`
	StepOffset   int `yaml:"step_offset" json:"step_offset" env:"STEP_OFFSET"`

	// Generations overrides the formula when positive
	Generations int `yaml:"generations" json:"generations" env:"GENERATIONS"`

	// Verify checks the final board against the glider's expected position
	Verify bool `yaml:"verify" json:"verify" env:"VERIFY"`

	// MaxCells caps a single grid buffer
	MaxCells int `yaml:"max_cells" json:"max_cells" env:"MAX_CELLS"`

	// Transport is local or tcp
	Transport Transport `yaml:"transport" json:"transport" env:"TRANSPORT"`
}

// NetworkConfig contains the rank mesh configuration
type NetworkConfig struct {
	// Peers lists every rank's listen address, indexed by rank
	Peers []string `yaml:"peers" json:"peers" env:"PEERS" envSeparator:","`

	// Session stamps every frame of a run
	Session uint64 `yaml:"session" json:"session" env:"SESSION"`

	// Timeouts
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts" envPrefix:"TIMEOUT_"`
}

// TimeoutConfig contains timeout settings
type TimeoutConfig struct {
	// Read timeout, zero waits forever
	Read time.Duration `yaml:"read" json:"read" env:"READ"`

	// Write timeout
	Write time.Duration `yaml:"write" json:"write" env:"WRITE"`

	// Dial timeout per attempt
	Dial time.Duration `yaml:"dial" json:"dial" env:"DIAL"`

	// Startup bounds how long a rank waits for the mesh to form
	Startup time.Duration `yaml:"startup" json:"startup" env:"STARTUP"`
}

// ServiceConfig contains the engine service settings
type ServiceConfig struct {
	// Listening address
	Address string `yaml:"address" json:"address" env:"ADDRESS"`

	// Listening port
	Port int `yaml:"port" json:"port" env:"PORT"`

	// Maximum number of jobs running at once
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent" env:"MAX_CONCURRENT"`

	// Maximum concurrent client connections
	MaxConnections int `yaml:"max_connections" json:"max_connections" env:"MAX_CONNECTIONS"`

	// IdleTimeout drops clients quiet for that long, zero keeps them
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout" env:"IDLE_TIMEOUT"`
}

// StoreConfig contains result persistence settings
type StoreConfig struct {
	// Path of the SQLite run history, empty disables it
	Path string `yaml:"path" json:"path" env:"PATH"`

	// Path of the JSON results file, empty disables it
	ResultsFile string `yaml:"results_file" json:"results_file" env:"RESULTS_FILE"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "lifegrid",
			Version:     "1.0.0",
			Environment: EnvDevelopment,
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Output: "stderr",
		},
		Engine: EngineConfig{
			Ranks:        4,
			Threads:      0,
			PowMin:       3,
			PowMax:       10,
			StepsPerUnit: 2,
			StepOffset:   3,
			MaxCells:     1 << 31,
			Transport:    TransportLocal,
		},
		Network: NetworkConfig{
			Timeouts: TimeoutConfig{
				Write:   30 * time.Second,
				Dial:    5 * time.Second,
				Startup: 30 * time.Second,
			},
		},
		Service: ServiceConfig{
			Address:        "0.0.0.0",
			Port:           5000,
			MaxConcurrent:  4,
			MaxConnections: 100,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate app config
	if c.App.Name == "" {
		return ErrInvalidAppName
	}
	if !c.App.Environment.IsValid() {
		return ErrInvalidEnvironment
	}

	// Validate log config
	if !c.Log.Level.IsValid() {
		return ErrInvalidLogLevel
	}
	if c.Log.Output == "" {
		return ErrInvalidLogOutput
	}

	// Validate engine config
	e := c.Engine
	if e.Ranks < 1 {
		return ErrInvalidRanks
	}
	if e.Threads < 0 {
		return ErrInvalidThreads
	}
	if e.PowMin < 2 || e.PowMax > 30 || e.PowMin > e.PowMax {
		return ErrInvalidPowRange
	}
	if e.Generations < 0 || (e.Generations == 0 && e.StepsPerUnit <= 0) {
		return ErrInvalidGenerations
	}
	if e.MaxCells <= 0 {
		return ErrInvalidMaxCells
	}
	if !e.Transport.IsValid() {
		return ErrInvalidTransport
	}

	// Validate network config
	if e.Transport == TransportTCP && len(c.Network.Peers) == 0 {
		return ErrInvalidPeers
	}
	for _, peer := range c.Network.Peers {
		if _, port, err := net.SplitHostPort(peer); err != nil || !validPort(port) {
			return ErrInvalidPeers
		}
	}

	// Validate service config
	if c.Service.Port <= 0 || c.Service.Port > 65535 {
		return ErrInvalidPort
	}
	if c.Service.MaxConcurrent <= 0 {
		return ErrInvalidMaxConcurrent
	}
	if c.Service.MaxConnections <= 0 {
		return ErrInvalidMaxConnections
	}

	return nil
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// ServiceAddress returns the service's host:port
func (c *Config) ServiceAddress() string {
	return net.JoinHostPort(c.Service.Address, strconv.Itoa(c.Service.Port))
}

// clone returns a copy that shares no slices with c
func (c *Config) clone() *Config {
	copied := *c
	if c.Network.Peers != nil {
		copied.Network.Peers = append([]string(nil), c.Network.Peers...)
	}
	return &copied
}

func validPort(s string) bool {
	port, err := strconv.Atoi(s)
	return err == nil && port > 0 && port <= 65535
}
