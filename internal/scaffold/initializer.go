package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/quill/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// ConfigFile is the project configuration written by Initialize.
const ConfigFile = config.ConfigFileName

// ExampleAgentDir holds the example external tool.
var ExampleAgentDir = filepath.Join("agents", "example-author")

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Template    string
	Permissions os.FileMode
}

var projectFiles = []FileInfo{
	{Path: ConfigFile, Template: "templates/quill.yml.tmpl", Permissions: 0644},
	{Path: filepath.Join(ExampleAgentDir, "run.sh"), Template: "templates/run.sh.tmpl", Permissions: 0755},
	{Path: filepath.Join(ExampleAgentDir, "README.md"), Template: "templates/README.md.tmpl", Permissions: 0644},
}

// Initialize creates the Quill project structure in dir.
// If force is true, it will remove existing quill.yml and agents/example-author first.
func Initialize(dir string, force bool) error {
	if force {
		if err := handleForce(dir); err != nil {
			return err
		}
	} else if err := CheckExisting(dir); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Join(dir, ExampleAgentDir), 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", ExampleAgentDir, err)
	}

	for _, file := range projectFiles {
		content, err := templatesFS.ReadFile(file.Template)
		if err != nil {
			return fmt.Errorf("failed to read %s template: %w", file.Path, err)
		}
		if err := os.WriteFile(filepath.Join(dir, file.Path), content, file.Permissions); err != nil {
			return fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
	}

	// The generated configuration must load as written.
	if _, err := config.Load(filepath.Join(dir, ConfigFile)); err != nil {
		return fmt.Errorf("created %s is invalid: %w", ConfigFile, err)
	}

	return nil
}

// CheckExisting returns an error when dir already holds a Quill project.
func CheckExisting(dir string) error {
	var existing []string
	if _, err := os.Stat(filepath.Join(dir, ConfigFile)); err == nil {
		existing = append(existing, ConfigFile)
	}
	if info, err := os.Stat(filepath.Join(dir, ExampleAgentDir)); err == nil && info.IsDir() {
		existing = append(existing, ExampleAgentDir+"/")
	}

	if len(existing) == 0 {
		return nil
	}

	errMsg := "project already initialized\n\nFound existing"
	if len(existing) == 1 {
		errMsg += fmt.Sprintf(": %s\n", existing[0])
	} else {
		errMsg += " files:\n"
		for _, file := range existing {
			errMsg += fmt.Sprintf("  - %s\n", file)
		}
	}
	errMsg += "\nUse 'quill init --force' to reinitialize (this will overwrite existing configuration)"
	return fmt.Errorf("%s", errMsg)
}

func handleForce(dir string) error {
	if err := os.Remove(filepath.Join(dir, ConfigFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", ConfigFile, err)
	}
	if err := os.RemoveAll(filepath.Join(dir, ExampleAgentDir)); err != nil {
		return fmt.Errorf("failed to remove %s: %w", ExampleAgentDir, err)
	}
	return nil
}

// CreatedFiles lists the paths Initialize writes, relative to the project dir.
func CreatedFiles() []string {
	paths := make([]string, len(projectFiles))
	for i, f := range projectFiles {
		paths[i] = f.Path
	}
	return paths
}
