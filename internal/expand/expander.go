// Package expand turns --key inputs into flow seeds.
//
// Each --key name:listfile adds one dimension. The list file names one path
// per non-empty line; the contents of each named file is the value bound to
// the key. Seeds are the Cartesian product of all dimensions.
package expand

import (
	"os"
	"strings"

	"github.com/flowloom/flowloom/internal/errors"
	"github.com/flowloom/flowloom/internal/template"
)

// KeyFile is one input dimension: a placeholder key and the list file
// enumerating its values.
type KeyFile struct {
	Key  string
	Path string
}

// ParseKeySpec parses a --key flag value in name:file form.
func ParseKeySpec(spec string) (KeyFile, error) {
	name, path, ok := strings.Cut(spec, ":")
	if !ok || name == "" || path == "" {
		return KeyFile{}, errors.InputBadKeySpec(spec)
	}
	return KeyFile{Key: name, Path: path}, nil
}

// Seed is one bound combination of input values, producing one root flow.
type Seed struct {
	// Index is the seed's position in enumeration order.
	Index int

	// Bindings maps each key to its value and originating file path.
	Bindings map[string]template.Value

	// Sources lists the originating file paths in key order, for the
	// run-level finished/failed reports.
	Sources []string
}

// entry is one resolved line of a key's list file.
type entry struct {
	value  string
	source string
}

// Expand produces the full seed set for the given keys.
//
// Enumeration order is stable run-to-run: keys keep their flag order and
// the first key varies slowest, the last key fastest. With no keys a single
// seed with no bindings is produced.
func Expand(keys []KeyFile) ([]Seed, error) {
	if len(keys) == 0 {
		return []Seed{{Index: 0, Bindings: map[string]template.Value{}}}, nil
	}

	loaded := make([][]entry, len(keys))
	for i, kf := range keys {
		entries, err := loadKey(kf)
		if err != nil {
			return nil, err
		}
		loaded[i] = entries
	}

	total := 1
	for _, entries := range loaded {
		total *= len(entries)
	}

	seeds := make([]Seed, 0, total)
	indices := make([]int, len(keys))
	for n := 0; n < total; n++ {
		bindings := make(map[string]template.Value, len(keys))
		sources := make([]string, len(keys))
		for i, kf := range keys {
			e := loaded[i][indices[i]]
			bindings[kf.Key] = template.Value{Text: e.value, Source: e.source}
			sources[i] = e.source
		}
		seeds = append(seeds, Seed{Index: n, Bindings: bindings, Sources: sources})

		// Advance the odometer, last key fastest.
		for i := len(indices) - 1; i >= 0; i-- {
			indices[i]++
			if indices[i] < len(loaded[i]) {
				break
			}
			indices[i] = 0
		}
	}

	return seeds, nil
}

// loadKey reads a key's list file and resolves each listed path's contents.
func loadKey(kf KeyFile) ([]entry, error) {
	data, err := os.ReadFile(kf.Path)
	if err != nil {
		return nil, errors.InputMissingKeyFile(kf.Key, kf.Path, err)
	}

	var entries []entry
	for _, line := range strings.Split(string(data), "\n") {
		path := strings.TrimSpace(line)
		if path == "" {
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.InputMissingKeyFile(kf.Key, path, err)
		}
		entries = append(entries, entry{value: string(content), source: path})
	}

	if len(entries) == 0 {
		return nil, errors.InputEmptyKeyFile(kf.Key, kf.Path)
	}
	return entries, nil
}
