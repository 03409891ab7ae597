package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// encoder writes a stream of values in the selected format. JSON values are
// one per line; YAML values are separate documents.
type encoder interface {
	Encode(v any) error
	Close() error
}

type jsonEncoder struct {
	enc *json.Encoder
}

func (j *jsonEncoder) Encode(v any) error { return j.enc.Encode(v) }
func (j *jsonEncoder) Close() error       { return nil }

func newEncoder(w io.Writer, format string, indent bool) (encoder, error) {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		if indent {
			enc.SetIndent("", "  ")
		}
		return &jsonEncoder{enc: enc}, nil
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		return enc, nil
	default:
		return nil, fmt.Errorf("unknown output format %q (want yaml or json)", format)
	}
}

// writeOutput encodes a single value in the --format the user picked.
func writeOutput(w io.Writer, v any) error {
	enc, err := newEncoder(w, viper.GetString("format"), true)
	if err != nil {
		return err
	}
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
