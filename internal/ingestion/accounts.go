package ingestion

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// ParseAccount normalizes an account reference to a bare username.
// It accepts "@name", a profile URL, or the name itself.
func ParseAccount(value string) string {
	handle := strings.TrimSpace(value)
	if handle == "" {
		return ""
	}
	if strings.HasPrefix(handle, "@") {
		return handle[1:]
	}
	if strings.HasPrefix(handle, "http") {
		if parsed, err := url.Parse(handle); err == nil {
			for _, part := range strings.Split(parsed.Path, "/") {
				if part != "" {
					return part
				}
			}
		}
	}
	return handle
}

// LoadAccounts reads account references from a file with one per line, or,
// when source is not a file, from a comma-separated list. Duplicates are dropped.
func LoadAccounts(source string) ([]string, error) {
	var entries []string

	info, err := os.Stat(source)
	switch {
	case err == nil && info.Mode().IsRegular():
		data, readErr := os.ReadFile(source)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read accounts file: %w", readErr)
		}
		entries = strings.Split(string(data), "\n")
	default:
		entries = strings.Split(source, ",")
	}

	seen := make(map[string]struct{})
	var accounts []string
	for _, entry := range entries {
		account := ParseAccount(entry)
		if account == "" {
			continue
		}
		if _, ok := seen[account]; ok {
			continue
		}
		seen[account] = struct{}{}
		accounts = append(accounts, account)
	}
	return accounts, nil
}
