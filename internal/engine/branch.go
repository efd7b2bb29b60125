package engine

import (
	"bytes"
	"encoding/json"
	"strings"

	flowerrors "github.com/flowloom/flowloom/internal/errors"
)

// parseBranchItems decodes an array step's output into the carried values
// for its children. The output must be a single JSON array; string elements
// are carried as-is, any other element is re-encoded as compact JSON so
// object and number elements survive as text.
func parseBranchItems(stepIdx int, output string) ([]string, error) {
	trimmed := strings.TrimSpace(output)

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil, flowerrors.ExecMalformedArray(stepIdx, err)
	}

	items := make([]string, 0, len(raw))
	for _, elem := range raw {
		var s string
		if err := json.Unmarshal(elem, &s); err == nil {
			items = append(items, s)
			continue
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, elem); err != nil {
			return nil, flowerrors.ExecMalformedArray(stepIdx, err)
		}
		items = append(items, buf.String())
	}
	return items, nil
}
