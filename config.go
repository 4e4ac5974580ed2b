package ext4slack

import (
	"errors"
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/diskfs/ext4slack/filesystem/ext4"
)

const (
	// EnvVarPrefix prefixes every environment variable read by LoadConfig
	EnvVarPrefix = "EXT4SLACK"
	// ConfigFileEnvVar names the YAML configuration file when no path is passed explicitly
	ConfigFileEnvVar = EnvVarPrefix + "_CONFIG_FILE"
)

// Config is everything a single run needs. It is passed explicitly to Run.
type Config struct {
	ImagePath string `yaml:"image"      envconfig:"IMAGE"`
	Mode      string `yaml:"mode"       envconfig:"MODE"`
	// BlockSize overrides the block size from the superblock when non-zero
	BlockSize uint32 `yaml:"blockSize"  envconfig:"BLOCK_SIZE"`
	// Output is a file to write to instead of stdout
	Output    string `yaml:"output"     envconfig:"OUTPUT"`
	ExactMode bool   `yaml:"exactMode"  envconfig:"EXACT_MODE"`
	// Strict makes an unknown mode an error instead of printing the usage hint
	Strict     bool   `yaml:"strict"     envconfig:"STRICT"`
	GDTBase    string `yaml:"gdtBase"    envconfig:"GDT_BASE"`
	Decompress bool   `yaml:"decompress" envconfig:"DECOMPRESS"`
	TempDir    string `yaml:"tempDir"    envconfig:"TEMP_DIR"`
	LogLevel   string `yaml:"logLevel"   envconfig:"LOG_LEVEL"`
	LogFormat  string `yaml:"logFormat"  envconfig:"LOG_FORMAT"`
}

// DefaultConfig returns the configuration used when nothing overrides it
func DefaultConfig() Config {
	return Config{
		GDTBase:    ext4.GDTBaseTotalBlocks.String(),
		Decompress: true,
		LogLevel:   log.InfoLevel.String(),
		LogFormat:  "text",
	}
}

// LoadConfig layers the defaults, the YAML file at path (or $EXT4SLACK_CONFIG_FILE when
// path is empty) and EXT4SLACK_* environment variables, in that order of precedence.
func LoadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	if path == "" {
		path = os.Getenv(ConfigFileEnvVar)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return nil, fmt.Errorf("unmarshaling config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvVarPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}
	return &c, nil
}

// Validate checks the settings that do not depend on the image
func (c *Config) Validate() error {
	if c.ImagePath == "" {
		return errors.New("missing required setting: image")
	}
	if c.BlockSize != 0 {
		if err := ext4.ValidateBlockSize(c.BlockSize); err != nil {
			return fmt.Errorf("invalid setting block size: %w", err)
		}
	}
	if _, err := ext4.ParseGDTBase(c.GDTBase); err != nil {
		return fmt.Errorf("invalid setting gdt base: %w", err)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid setting log level: %w", err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid setting log format %q, expected text or json", c.LogFormat)
	}
	return nil
}

// ConfigureLogging points the logger at stderr with the configured level and format.
// stdout is reserved for the dumped bytes.
func ConfigureLogging(c *Config) error {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetOutput(os.Stderr)
	log.SetLevel(level)
	switch c.LogFormat {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid log format %q, expected text or json", c.LogFormat)
	}
	return nil
}
