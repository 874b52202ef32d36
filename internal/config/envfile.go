package config

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
)

// loadEnvFiles pulls missing settings from .env.local and .env so the engine
// starts from a checkout without exported variables. Checked in the working
// directory and next to the binary; .env.local wins because it is read
// first and already-set variables are never overwritten. Only consulted
// when DATABASE_URL is absent from the environment.
func loadEnvFiles() {
	var dirs []string
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	if exe, err := os.Executable(); err == nil {
		if dir := filepath.Dir(exe); dir != "" {
			dirs = append(dirs, dir)
		}
	}
	for _, dir := range dirs {
		for _, name := range []string{".env.local", ".env"} {
			data, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				continue
			}
			applyEnvFile(data)
		}
	}
}

// applyEnvFile parses KEY=VALUE lines, skipping blanks and # comments.
// Values may be single- or double-quoted.
func applyEnvFile(data []byte) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		key, value, ok := parseEnvLine(scanner.Text())
		if ok && os.Getenv(key) == "" {
			_ = os.Setenv(key, value)
		}
	}
}

func parseEnvLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	i := strings.Index(line, "=")
	if i <= 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:i])
	if key == "" {
		return "", "", false
	}
	value = strings.Trim(strings.TrimSpace(line[i+1:]), `"'`)
	return key, value, true
}
