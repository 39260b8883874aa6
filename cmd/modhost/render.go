// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/modhost/modhost/internal/issue"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

var formats = []string{formatText, formatJSON, formatYAML}

func checkFormat(f string) error {
	if !slices.Contains(formats, f) {
		return fmt.Errorf("unknown format %q (valid: text, json, yaml)", f)
	}
	return nil
}

// writeStructured renders v as JSON or YAML.
func writeStructured(w io.Writer, format string, v any) error {
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
		return fmt.Errorf("format %q is not structured", format)
	}
}

// renderIssue prints the guidance of id. Rendering failures are ignored;
// the command's own error is still reported.
func renderIssue(w io.Writer, id issue.Id) {
	entry := issue.Get(id)
	if entry == nil {
		return
	}
	style := "dark"
	if os.Getenv("NO_COLOR") != "" {
		style = "notty"
	}
	if rendered, err := entry.Render(style); err == nil {
		fmt.Fprint(w, rendered)
	}
}
