// Package scaffold writes a starter hub configuration and agent environment.
package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/warren/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Template    string
	Permissions os.FileMode
}

// Files lists what Initialize creates, relative to the target directory.
var Files = []FileInfo{
	{Path: "warren.yml", Template: "templates/warren.yml.tmpl", Permissions: 0644},
	{Path: "agent.env", Template: "templates/agent.env.tmpl", Permissions: 0600},
}

// Initialize writes the starter files into dir. Existing files are an error
// unless force is set, in which case they are overwritten.
func Initialize(dir string, force bool) error {
	if !force {
		if err := CheckExisting(dir); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	for _, f := range Files {
		content, err := templatesFS.ReadFile(f.Template)
		if err != nil {
			return fmt.Errorf("failed to read %s template: %w", f.Path, err)
		}
		path := filepath.Join(dir, f.Path)
		if err := os.WriteFile(path, content, f.Permissions); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}

	// The written config must load exactly as the hub would load it.
	if _, err := config.Load(filepath.Join(dir, "warren.yml")); err != nil {
		return fmt.Errorf("created warren.yml is invalid: %w", err)
	}
	return nil
}

// CheckExisting returns an error naming any starter file already present in dir.
func CheckExisting(dir string) error {
	var existing []string
	for _, f := range Files {
		if _, err := os.Stat(filepath.Join(dir, f.Path)); err == nil {
			existing = append(existing, f.Path)
		}
	}
	if len(existing) == 0 {
		return nil
	}

	msg := "already initialized\n\nFound existing"
	if len(existing) == 1 {
		msg += fmt.Sprintf(": %s\n", existing[0])
	} else {
		msg += " files:\n"
		for _, file := range existing {
			msg += fmt.Sprintf("  - %s\n", file)
		}
	}
	msg += "\nUse 'warren init --force' to overwrite them"
	return fmt.Errorf("%s", msg)
}
