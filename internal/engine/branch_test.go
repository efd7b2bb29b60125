package engine

import (
	"testing"

	flowerrors "github.com/flowloom/flowloom/internal/errors"
	"github.com/flowloom/flowloom/internal/testutil"
)

func TestParseBranchItems(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   []string
	}{
		{"strings", `["a", "b", "c"]`, []string{"a", "b", "c"}},
		{"empty", `[]`, []string{}},
		{"surrounding whitespace", "\n  [\"x\"]  \n", []string{"x"}},
		{"numbers kept as text", `[1, 2.5]`, []string{"1", "2.5"}},
		{"objects compacted", `[{"id": 1, "name": "a"}]`, []string{`{"id":1,"name":"a"}`}},
		{"mixed", `["plain", {"k": "v"}]`, []string{"plain", `{"k":"v"}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := parseBranchItems(2, tt.output)
			testutil.AssertNoError(t, err)
			testutil.AssertLen(t, items, len(tt.want))
			for i, want := range tt.want {
				testutil.AssertEqual(t, want, items[i])
			}
		})
	}
}

func TestParseBranchItemsRejectsNonArrays(t *testing.T) {
	for _, output := range []string{
		`prose, not json`,
		`{"an": "object"}`,
		`"a bare string"`,
		`["unterminated"`,
	} {
		_, err := parseBranchItems(1, output)
		testutil.AssertError(t, err)
		testutil.AssertTrue(t, flowerrors.HasCode(err, flowerrors.CodeExecMalformedArray),
			"want EXEC_003 for %q, got %v", output, err)
	}
}
