package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// fallbackFile holds secrets for environments without Secret Manager access. Each line is
// "secret://name[?version=N]=value". The file is read once, on first use.
type fallbackFile struct {
	path   string
	once   sync.Once
	values map[string]string
	err    error
}

func (f *fallbackFile) lookup(ref reference, version string) (string, bool, error) {
	f.once.Do(f.load)
	if f.err != nil {
		return "", false, f.err
	}
	if value, ok := f.values[ref.key(version)]; ok {
		return value, true, nil
	}
	value, ok := f.values[ref.canonical]
	return value, ok, nil
}

func (f *fallbackFile) load() {
	f.values = make(map[string]string)
	if f.path == "" {
		return
	}
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		f.err = fmt.Errorf("secrets: open fallback file %s: %w", f.path, err)
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raw, value, ok := splitFallbackLine(line)
		if !ok {
			continue
		}
		ref, err := parseReference(raw)
		if err != nil {
			continue
		}
		value = strings.TrimSpace(value)
		version := ref.version
		if version == "" {
			version = latestVersion
		}
		f.values[ref.canonical] = value
		f.values[ref.key(version)] = value
	}
	if err := scanner.Err(); err != nil {
		f.err = fmt.Errorf("secrets: read fallback file %s: %w", f.path, err)
	}
}

// splitFallbackLine separates a reference from its value. Query parameters carry their own '='
// so the value starts after the first '=' that follows a complete query.
func splitFallbackLine(line string) (string, string, bool) {
	key, value, ok := strings.Cut(line, "=")
	for ok && strings.Contains(key, "?") && !queryComplete(key) {
		var more string
		more, value, ok = strings.Cut(value, "=")
		key += "=" + more
	}
	key = strings.TrimSpace(key)
	return key, value, ok && key != ""
}

func queryComplete(ref string) bool {
	last := ref[strings.LastIndexAny(ref, "?&")+1:]
	return strings.Contains(last, "=")
}
