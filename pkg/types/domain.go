package types

import "strings"

// LocalModel is one entry of the backend's model inventory.
type LocalModel struct {
	// Model name including tag.
	// example: llama3.2:3b
	Name string `json:"name" example:"llama3.2:3b"`
	// Alternate identifier reported by newer servers.
	Model string `json:"model,omitempty"`
	// Size on disk in bytes.
	Size int64 `json:"size,omitempty"`
	// Content digest.
	Digest string `json:"digest,omitempty"`
}

// CanonicalModelName appends the implicit ":latest" tag so "llama3" and
// "llama3:latest" compare equal.
func CanonicalModelName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return name
	}
	if i := strings.LastIndex(name, ":"); i < 0 || strings.Contains(name[i:], "/") {
		return name + ":latest"
	}
	return name
}
