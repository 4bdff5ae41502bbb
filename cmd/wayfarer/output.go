package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

const (
	outputJSON = "json"
	outputYAML = "yaml"
	outputRaw  = "raw"
)

// writeBody renders a JSON response body. Non-JSON bodies are written as is.
func writeBody(w io.Writer, format string, body []byte) error {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil
	}
	if format == outputRaw || !json.Valid(body) {
		_, err := fmt.Fprintf(w, "%s\n", body)
		return err
	}

	switch format {
	case outputJSON, "":
		var buf bytes.Buffer
		if err := json.Indent(&buf, body, "", "  "); err != nil {
			return err
		}
		buf.WriteByte('\n')
		_, err := buf.WriteTo(w)
		return err
	case outputYAML:
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			return err
		}
		return writeYAML(w, v)
	default:
		return fmt.Errorf("unknown output format %q (want json, yaml or raw)", format)
	}
}

// writeValue renders v in the chosen format.
func writeValue(w io.Writer, format string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeBody(w, format, b)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
