package main

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// encode writes v to w as JSON or YAML.
func encode(w io.Writer, v any, format string) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (want %s or %s)", format, formatJSON, formatYAML)
	}
}

func validFormat(format string) error {
	if format != formatJSON && format != formatYAML {
		return fmt.Errorf("unknown output format %q (want %s or %s)", format, formatJSON, formatYAML)
	}
	return nil
}
