// Package config loads the application configuration from defaults, a global
// config file, a per-project local file, environment variables and flags, in
// ascending order of precedence.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/apicove/grpcbridge/logger"
)

const (
	appDirName       = "grpcbridge"
	globalConfigName = "config.toml"
	localConfigName  = ".grpcbridge.toml"
)

// Header is one metadata entry sent with every request.
type Header struct {
	Key string `mapstructure:"key" toml:"key"`
	Val string `mapstructure:"value" toml:"value"`
}

// Server is the target server configuration.
type Server struct {
	Host        string `mapstructure:"host" toml:"host"`
	Port        string `mapstructure:"port" toml:"port"`
	Reflection  bool   `mapstructure:"reflection" toml:"reflection"`
	TLS         bool   `mapstructure:"tls" toml:"tls"`
	ServerName  string `mapstructure:"serverName" toml:"serverName"`
	CACertFile  string `mapstructure:"cacert" toml:"cacert"`
	CertFile    string `mapstructure:"cert" toml:"cert"`
	CertKeyFile string `mapstructure:"certKey" toml:"certKey"`
}

// Request configures outgoing requests.
type Request struct {
	Header []Header `mapstructure:"header" toml:"header"`
}

// Cache bounds the schema registry caches.
type Cache struct {
	FileSize    int `mapstructure:"fileSize" toml:"fileSize"`
	MessageSize int `mapstructure:"messageSize" toml:"messageSize"`
	EnumSize    int `mapstructure:"enumSize" toml:"enumSize"`
}

// Call configures the call manager.
type Call struct {
	ReapInterval time.Duration `mapstructure:"reapInterval" toml:"reapInterval"`
	StaleAfter   time.Duration `mapstructure:"staleAfter" toml:"staleAfter"`
	DialTimeout  time.Duration `mapstructure:"dialTimeout" toml:"dialTimeout"`
}

// Log configures diagnostic logging.
type Log struct {
	Prefix  string `mapstructure:"prefix" toml:"prefix"`
	Verbose bool   `mapstructure:"verbose" toml:"verbose"`
}

type Config struct {
	Server  *Server  `mapstructure:"server" toml:"server"`
	Request *Request `mapstructure:"request" toml:"request"`
	Cache   *Cache   `mapstructure:"cache" toml:"cache"`
	Call    *Call    `mapstructure:"call" toml:"call"`
	Log     *Log     `mapstructure:"log" toml:"log"`
}

func initDefaultValues(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", "50051")
	v.SetDefault("server.reflection", true)
	v.SetDefault("server.tls", false)
	v.SetDefault("cache.fileSize", 100)
	v.SetDefault("cache.messageSize", 500)
	v.SetDefault("cache.enumSize", 200)
	v.SetDefault("call.reapInterval", "60s")
	v.SetDefault("call.staleAfter", "5m")
	v.SetDefault("call.dialTimeout", "10s")
	v.SetDefault("log.prefix", "grpcbridge: ")
	v.SetDefault("log.verbose", false)
}

// bindFlags maps config keys to the flags that override them. Flags the
// flag set doesn't define are skipped.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	if fs == nil {
		return
	}
	kv := map[string]string{
		"server.host":       "host",
		"server.port":       "port",
		"server.reflection": "reflection",
		"server.tls":        "tls",
		"server.serverName": "servername",
		"server.cacert":     "cacert",
		"server.cert":       "cert",
		"server.certKey":    "certkey",
		"log.verbose":       "verbose",
	}
	for key, name := range kv {
		if f := fs.Lookup(name); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

// Get resolves the conclusive config. fs may be nil when no flags apply.
func Get(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	initDefaultValues(v)
	bindFlags(v, fs)
	v.SetEnvPrefix(appDirName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if dir, err := os.UserConfigDir(); err == nil {
		path := filepath.Join(dir, appDirName, globalConfigName)
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, errors.Wrapf(err, "failed to read the config file %s", path)
			}
			logger.Printf("loaded the global config file: %s", path)
		}
	}

	// A local config in the working directory overrides the global one.
	if f, err := os.Open(localConfigName); err == nil {
		defer f.Close()
		if err := v.MergeConfig(f); err != nil {
			return nil, errors.Wrapf(err, "failed to merge the local config file %s", localConfigName)
		}
		logger.Printf("loaded the local config file: %s", localConfigName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal the config")
	}
	// The request section has no defaults, so it stays nil unless a config
	// file declares it.
	if cfg.Request == nil {
		cfg.Request = &Request{}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Log.Verbose {
		logger.SetOutput(os.Stderr)
	}
	logger.SetPrefix(cfg.Log.Prefix)
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port == "" {
		return errors.New("the server port must not be empty")
	}
	if c.Cache.FileSize <= 0 || c.Cache.MessageSize <= 0 || c.Cache.EnumSize <= 0 {
		return errors.New("cache sizes must be positive")
	}
	if c.Call.ReapInterval <= 0 || c.Call.StaleAfter <= 0 {
		return errors.New("call reaping durations must be positive")
	}
	if c.Server.TLS {
		if (c.Server.CertFile != "") != (c.Server.CertKeyFile != "") {
			return errors.New("mutual authentication requires both the cert and the cert key")
		}
	}
	return nil
}

// Address joins the configured host and port.
func (s *Server) Address() string {
	return s.Host + ":" + s.Port
}

// Metadata flattens the configured headers into the map the transport layer
// accepts. Repeated keys accumulate.
func (r *Request) Metadata() map[string][]string {
	if r == nil || len(r.Header) == 0 {
		return nil
	}
	md := make(map[string][]string, len(r.Header))
	for _, h := range r.Header {
		md[h.Key] = append(md[h.Key], h.Val)
	}
	return md
}
