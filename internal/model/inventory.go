package model

import (
	"context"
	"encoding/json"
	"fmt"

	"mover/internal/probe"
	"mover/pkg/types"
)

// List returns the models the backend reports as locally available.
func List(ctx context.Context, c *probe.Client) ([]types.LocalModel, error) {
	r := c.Get(ctx, types.TagsPath)
	if r.Err != nil {
		return nil, fmt.Errorf("list models: %w", r.Err)
	}
	if !r.OK() {
		return nil, fmt.Errorf("list models: status %d: %s", r.Status, r.Message)
	}
	var tags types.TagsResponse
	if err := json.Unmarshal(r.Body, &tags); err != nil {
		return nil, fmt.Errorf("decode model list: %w", err)
	}
	return tags.Models, nil
}

// Has reports whether name is among models. Untagged names match ":latest".
func Has(models []types.LocalModel, name string) bool {
	want := types.CanonicalModelName(name)
	for _, m := range models {
		if types.CanonicalModelName(m.Name) == want || (m.Model != "" && types.CanonicalModelName(m.Model) == want) {
			return true
		}
	}
	return false
}
