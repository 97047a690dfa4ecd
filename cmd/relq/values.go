package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mickamy/relq/orm"
)

// parseValue reads a command line value as YAML, so that 12 is an int, null
// nil and [1, 2] a list matched with IN. Objects and anything unparsable stay
// a string.
func parseValue(s string) any {
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	if _, ok := v.(map[string]any); ok {
		return s
	}
	return v
}

// parseID spreads a comma separated id over the primary key of q.
func parseID(q *orm.Query, s string) any {
	pk := q.PrimaryKey()
	if len(pk) < 2 {
		return parseValue(s)
	}
	parts := strings.Split(s, ",")
	id := make([]any, len(parts))
	for i, p := range parts {
		id[i] = parseValue(strings.TrimSpace(p))
	}
	return id
}

// parseRow reads a YAML or JSON object.
func parseRow(s string) (orm.Row, error) {
	var row map[string]any
	if err := yaml.Unmarshal([]byte(s), &row); err != nil {
		return nil, fmt.Errorf("invalid row %q: %w", s, err)
	}
	if row == nil {
		return nil, fmt.Errorf("invalid row %q: not an object", s)
	}
	return row, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
