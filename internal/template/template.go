// Package template substitutes triple-brace placeholders in prompt and
// command text.
//
// Placeholders are written {{{key}}}. The triple-brace marker is reserved
// so that ordinary braces in prompts (JSON samples, shell expansions) never
// collide with substitution. Unknown placeholders are left untouched:
// pipelines routinely mix input-file keys with keys bound later, such as
// the previous-output slot.
package template

import (
	"strings"

	"github.com/flowloom/flowloom/internal/errors"
)

const (
	openMarker  = "{{{"
	closeMarker = "}}}"
)

// Value is a binding for a placeholder. Source carries the path of the file
// the text was drawn from, when there is one.
type Value struct {
	Text   string
	Source string
}

// Options controls interpolation behavior.
type Options struct {
	// AppendSource appends the binding's source file path on a new line
	// after the substituted content. Bindings without a source are
	// substituted as-is.
	AppendSource bool
}

// Interpolate replaces every {{{key}}} in text with the bound value.
// Placeholders with no binding are left untouched. The only failure mode is
// an opening marker with no closing marker.
func Interpolate(text string, bindings map[string]string) (string, error) {
	values := make(map[string]Value, len(bindings))
	for k, v := range bindings {
		values[k] = Value{Text: v}
	}
	return InterpolateValues(text, values, Options{})
}

// InterpolateValues replaces every {{{key}}} in text with the bound value,
// honoring opts. Substitution is purely textual and scans left to right, so
// substituted content is never re-scanned: interpolating a second time with
// no bindings is a no-op.
func InterpolateValues(text string, bindings map[string]Value, opts Options) (string, error) {
	var b strings.Builder
	rest := text
	consumed := 0

	for {
		start := strings.Index(rest, openMarker)
		if start < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}

		end := strings.Index(rest[start+len(openMarker):], closeMarker)
		if end < 0 {
			return "", errors.TemplateUnterminated(consumed + start)
		}

		key := rest[start+len(openMarker) : start+len(openMarker)+end]
		b.WriteString(rest[:start])

		if val, ok := bindings[key]; ok {
			b.WriteString(render(val, opts))
		} else {
			// No binding: emit the placeholder verbatim.
			b.WriteString(openMarker + key + closeMarker)
		}

		next := start + len(openMarker) + end + len(closeMarker)
		consumed += next
		rest = rest[next:]
	}
}

// render produces the substituted text for one binding.
func render(val Value, opts Options) string {
	if opts.AppendSource && val.Source != "" {
		return strings.TrimRight(val.Text, "\n") + "\n" + val.Source
	}
	return val.Text
}

// Placeholder returns the literal placeholder form of a key.
func Placeholder(key string) string {
	return openMarker + key + closeMarker
}

// References reports whether text contains a placeholder for key.
func References(text, key string) bool {
	return strings.Contains(text, Placeholder(key))
}
