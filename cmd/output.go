package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/skiatlas/internal/pipeline"
)

// writeOutput renders v as indented JSON or as YAML. YAML keys follow the
// JSON field names so both formats read the same.
func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		raw, err := json.Marshal(v)
		if err != nil {
			return eris.Wrap(err, "output: marshal")
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return eris.Wrap(err, "output: normalize")
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return eris.Wrap(err, "output: yaml")
		}
		return enc.Close()
	default:
		return eris.Errorf("unsupported output format: %s", format)
	}
}

// readState decodes a continuation state from r and validates it.
func readState(r io.Reader) (pipeline.ContinuationState, error) {
	var state pipeline.ContinuationState
	if err := json.NewDecoder(r).Decode(&state); err != nil {
		return state, eris.Wrap(err, "decode continuation state")
	}
	if err := state.Validate(); err != nil {
		return state, err
	}
	return state, nil
}

// loadState reads a continuation state from path, or stdin for "-".
func loadState(path string, stdin io.Reader) (pipeline.ContinuationState, error) {
	if path == "" {
		return pipeline.ContinuationState{}, eris.New("--state is required (file path or - for stdin)")
	}
	if path == "-" {
		return readState(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return pipeline.ContinuationState{}, eris.Wrapf(err, "open state file %s", path)
	}
	defer f.Close() //nolint:errcheck
	return readState(f)
}
