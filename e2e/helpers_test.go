package e2e_test

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	binaryPath     string
	binaryBuildErr error
	binaryOnce     sync.Once
	sharedTempDir  string
)

// TestMain sets up and tears down shared test resources.
func TestMain(m *testing.M) {
	var err error
	sharedTempDir, err = os.MkdirTemp("", "schemactl-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create temp dir: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	_ = os.RemoveAll(sharedTempDir)
	os.Exit(code)
}

// buildBinary compiles the schemactl binary once per test run.
func buildBinary(t *testing.T) string {
	t.Helper()

	binaryOnce.Do(func() {
		binaryPath = filepath.Join(sharedTempDir, "schemactl")

		cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/schemactl")
		cmd.Dir = getProjectRoot(t)
		output, err := cmd.CombinedOutput()
		if err != nil {
			binaryBuildErr = fmt.Errorf("build binary: %w\nOutput: %s", err, output)
			return
		}
	})

	if binaryBuildErr != nil {
		t.Fatalf("failed to build binary: %v", binaryBuildErr)
	}

	return binaryPath
}

// getProjectRoot returns the root directory of the project.
func getProjectRoot(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	require.NoError(t, err, "get working directory")

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find project root (go.mod)")
		}
		dir = parent
	}
}

// writeConfigFile renders a config file pointing at the given database.
func writeConfigFile(t *testing.T, dbType, dbName string, extra map[string]string) string {
	t.Helper()

	content := fmt.Sprintf(`database:
  type: %s
  database: "%s"
`, dbType, dbName)
	for k, v := range extra {
		content += fmt.Sprintf("  %s: \"%s\"\n", k, v)
	}
	content += "log:\n  level: error\n"

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600), "write config file")
	return configPath
}

// writeSchemaFile writes a schema declaration and returns its path.
func writeSchemaFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600), "write schema file")
	return path
}

// runCommand invokes the binary and returns combined stdout, stderr, and the
// execution error, if any.
func runCommand(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()

	binary := buildBinary(t)
	full := append([]string{"--config", configPath}, args...)

	cmd := exec.Command(binary, full...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}
