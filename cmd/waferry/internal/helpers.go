package internal

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tinyland-inc/waferry/pkg/config"
)

var (
	version   = "dev"
	gitCommit string
)

func GetConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".waferry", "config.json")
}

func LoadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = GetConfigPath()
	}
	return config.LoadConfig(path)
}

// FormatVersion returns the version string with optional git commit.
func FormatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}
