package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".intrin"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through
// the config file or the environment.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// If Strict is true constructing an intrinsic the processor does not
	// support is an error instead of silently using the fallback.
	Strict bool `yaml:"strict" env:"INTRIN_STRICT"`

	// RandRetries is the number of attempts rand and seed make before
	// giving up on the hardware generator.
	RandRetries int `yaml:"rand-retries,omitempty" env:"INTRIN_RAND_RETRIES"`

	// TSCVariant selects the timestamp counter instruction sequence: one
	// of auto, rdtsc, lfence, rdtscp or cpuid.
	TSCVariant string `yaml:"tsc-variant,omitempty" env:"INTRIN_TSC_VARIANT"`

	// Disable lists intrinsics that are never executed, as if the
	// processor lacked them.
	Disable []string `yaml:"disable" env:"INTRIN_DISABLE" envSeparator:","`

	// Color overrides terminal detection for colored output.
	Color *bool `yaml:"color,omitempty"`
}

// LoadConfig attempts to populate a Config object from the config.yml file.
// Environment variables override values read from the file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return envOnly()
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return envOnly()
	}
	c, err := LoadConfigFrom(fullConfigFile)
	if err != nil {
		fmt.Printf("%v.", err)
		return envOnly()
	}
	return c
}

// LoadConfigFrom reads the configuration at path, writing the default
// configuration there first if the file does not exist.
func LoadConfigFrom(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		f, err = createDefaultConfig(path)
		if err != nil {
			return nil, fmt.Errorf("error creating default config file: %v", err)
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return nil, fmt.Errorf("unable to decode config file: %v", err)
	}
	if err := ParseEnv(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ParseEnv overrides the fields of c whose environment variable is set.
func ParseEnv(c *Config) error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func envOnly() *Config {
	var c Config
	if err := ParseEnv(&c); err != nil {
		fmt.Printf("%v.", err)
	}
	return &c
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}
	return saveConfigTo(fullConfigFile, conf)
}

func saveConfigTo(path string, conf *Config) error {
	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for intrin.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Fail instead of falling back when the processor lacks an instruction.
# Same as INTRIN_STRICT.
# strict: true

# Attempts made by rand and seed before the generator is considered exhausted.
# rand-retries: 10

# Timestamp counter sequence: auto, rdtsc, lfence, rdtscp or cpuid.
# tsc-variant: auto

# Intrinsics that are never executed, for example ["rdseed"].
disable: []

# Force colored output on or off.
# color: true
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	if dir := os.Getenv("INTRIN_CONFIG_DIR"); dir != "" {
		return path.Join(dir, file), nil
	}

	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
