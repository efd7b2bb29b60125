package testutil

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// WriteFile writes content to a file under dir, creating parent directories.
// Returns the full path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating dir for %s: %v", name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

// WriteKeyFile writes value files and a key file listing their paths.
// Each element of values becomes one file; the returned path is the key file.
func WriteKeyFile(t *testing.T, dir, key string, values []string) string {
	t.Helper()
	listPath := filepath.Join(dir, key+"_files.txt")
	var list string
	for i, v := range values {
		p := WriteFile(t, dir, key+"_"+strconv.Itoa(i)+".txt", v)
		list += p + "\n"
	}
	if err := os.WriteFile(listPath, []byte(list), 0644); err != nil {
		t.Fatalf("writing key file %s: %v", listPath, err)
	}
	return listPath
}

// ReadFile reads a file, failing the test on error.
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}
