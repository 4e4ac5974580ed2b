package ext4slack

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-test/deep"
	log "github.com/sirupsen/logrus"
)

func TestLoadConfigLayers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ext4slack.yaml")
	yml := `image: /evidence/sda1.img
mode: superblock
blockSize: 2048
strict: true
logLevel: debug
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("EXT4SLACK_MODE", "fileslack")
	t.Setenv("EXT4SLACK_DECOMPRESS", "false")

	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := &Config{
		ImagePath:  "/evidence/sda1.img",
		Mode:       "fileslack",
		BlockSize:  2048,
		Strict:     true,
		GDTBase:    "total-blocks",
		Decompress: false,
		LogLevel:   "debug",
		LogFormat:  "text",
	}
	if diff := deep.Equal(c, expected); diff != nil {
		t.Errorf("LoadConfig() = %v", diff)
	}
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	if err := os.WriteFile(path, []byte("gdtBase: blocks-per-group\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigFileEnvVar, path)
	c, err := LoadConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.GDTBase != "blocks-per-group" {
		t.Errorf("gdt base %q, expected blocks-per-group", c.GDTBase)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()
	unknown := filepath.Join(dir, "unknown.yaml")
	if err := os.WriteFile(unknown, []byte("colour: blue\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(unknown); err == nil {
		t.Errorf("expected error for unknown config key")
	}
	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Errorf("expected error for missing config file")
	}

	t.Setenv("EXT4SLACK_BLOCK_SIZE", "big")
	if _, err := LoadConfig(""); err == nil {
		t.Errorf("expected error for non-numeric block size")
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		c := DefaultConfig()
		c.ImagePath = "fs.img"
		return c
	}
	tests := []struct {
		name   string
		modify func(c *Config)
		err    string
	}{
		{"valid", func(c *Config) {}, ""},
		{"override block size", func(c *Config) { c.BlockSize = 4096 }, ""},
		{"no image", func(c *Config) { c.ImagePath = "" }, "image"},
		{"bad block size", func(c *Config) { c.BlockSize = 1000 }, "block size"},
		{"bad gdt base", func(c *Config) { c.GDTBase = "inodes" }, "gdt base"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log level"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.modify(&c)
			err := c.Validate()
			switch {
			case tt.err == "" && err != nil:
				t.Errorf("unexpected error: %v", err)
			case tt.err != "" && err == nil:
				t.Errorf("expected error mentioning %q", tt.err)
			case tt.err != "" && !strings.Contains(err.Error(), tt.err):
				t.Errorf("error %q does not mention %q", err, tt.err)
			}
		})
	}
}

func TestConfigureLogging(t *testing.T) {
	defer log.SetFormatter(&log.TextFormatter{})
	defer log.SetLevel(log.GetLevel())

	c := DefaultConfig()
	c.LogLevel = "warn"
	c.LogFormat = "json"
	if err := ConfigureLogging(&c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if log.GetLevel() != log.WarnLevel {
		t.Errorf("log level %s, expected warn", log.GetLevel())
	}
	if _, ok := log.StandardLogger().Formatter.(*log.JSONFormatter); !ok {
		t.Errorf("formatter %T, expected JSON", log.StandardLogger().Formatter)
	}

	c.LogFormat = "xml"
	if err := ConfigureLogging(&c); err == nil {
		t.Errorf("expected error for unknown log format")
	}
}
