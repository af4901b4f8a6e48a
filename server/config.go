package server

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/lorenzocerrone/plant-seg/pseg"
	"github.com/lorenzocerrone/plant-seg/storage"
)

const (
	// DefaultWebAddress is the default address of the HTTP server.
	DefaultWebAddress = "localhost:8000"
)

var (
	// the parsed TOML configuration data
	tc tomlConfig

	// the TOML config file location
	tcLocation string
)

type tomlConfig struct {
	Server  localConfig
	Logging pseg.LogConfig
	Kafka   storage.KafkaConfig
	Store   storage.StoreConfig
	Cache   storage.CacheConfig
}

type localConfig struct {
	Host        string   `toml:"host"`
	HTTPAddress string   `toml:"httpAddress"`
	CorsOrigins []string `toml:"corsOrigins"`
	Note        string   `toml:"note"`

	ShutdownDelay int `toml:"shutdownDelay"`
}

func init() {
	tc.Server.HTTPAddress = DefaultWebAddress
	tc.Server.Host = "localhost"
	tc.Server.ShutdownDelay = 5
}

// Some settings in the TOML can be given as relative paths. This function
// converts them in-place to absolute paths, assuming the given paths were
// relative to the TOML file's own directory.
func (c *tomlConfig) convertPathsToAbsolute(configPath string) error {
	configDir := filepath.Dir(configPath)

	var err error
	if c.Logging.Logfile != "" {
		c.Logging.Logfile, err = convertToAbsolute(c.Logging.Logfile, configDir)
		if err != nil {
			return fmt.Errorf("error converting logfile setting to absolute path: %v", err)
		}
	}
	if c.Store.Path != "" {
		c.Store.Path, err = convertToAbsolute(c.Store.Path, configDir)
		if err != nil {
			return fmt.Errorf("error converting store.path to absolute path: %v", err)
		}
	}
	return nil
}

func convertToAbsolute(path, configDir string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	return filepath.Abs(filepath.Join(configDir, path))
}

// LoadConfig parses a TOML configuration file and makes it the active
// server configuration.
func LoadConfig(filename string) error {
	if filename == "" {
		return fmt.Errorf("no server TOML configuration file provided")
	}
	if _, err := toml.DecodeFile(filename, &tc); err != nil {
		return fmt.Errorf("could not decode TOML config: %v", err)
	}
	if err := tc.convertPathsToAbsolute(filename); err != nil {
		return err
	}
	tcLocation = filename
	return nil
}

// Host returns the configured understandable alias for this server.
func Host() string {
	return tc.Server.Host
}

// HTTPAddress returns the configured web server address.
func HTTPAddress() string {
	return tc.Server.HTTPAddress
}

// Note returns the configured free-form server annotation.
func Note() string {
	return tc.Server.Note
}

// WritePidFile writes the process id to the given path, if any.
func WritePidFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}
