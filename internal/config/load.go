package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"pipekit/internal/errs"
)

// Load reads a pipeline file. ".yaml" and ".yml" files are YAML; anything
// else is JSON, with comments and trailing commas allowed. Unknown fields
// are rejected.
func Load(path string) (*Pipeline, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.ConfigError{Path: path, Msg: "read pipeline", Err: err}
	}
	var p *Pipeline
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		p, err = DecodeYAML(b)
	default:
		p, err = DecodeJSON(b)
	}
	if err != nil {
		return nil, &errs.ConfigError{Path: path, Msg: "decode pipeline", Err: err}
	}
	return p, nil
}

// DecodeJSON decodes a JSON or JSONC document.
func DecodeJSON(b []byte) (*Pipeline, error) {
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(b)))
	dec.DisallowUnknownFields()
	var p Pipeline
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after the pipeline object")
	}
	return &p, nil
}

// DecodeYAML decodes a YAML document.
func DecodeYAML(b []byte) (*Pipeline, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	var p Pipeline
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty document")
		}
		return nil, err
	}
	return &p, nil
}

// Environment variables that override runtime settings.
const (
	EnvWorkers    = "PIPEKIT_WORKERS"
	EnvSortMemory = "PIPEKIT_SORT_MEMORY"
	EnvSpillDir   = "PIPEKIT_SPILL_DIR"
	EnvMaxErrors  = "PIPEKIT_MAX_ERRORS"
)

// ApplyEnv overrides runtime settings from the environment. getenv is
// usually os.Getenv.
func (p *Pipeline) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &errs.ConfigError{Path: EnvWorkers, Err: err}
		}
		p.Runtime.Workers = n
	}
	if v := getenv(EnvSortMemory); v != "" {
		if _, err := humanize.ParseBytes(v); err != nil {
			return &errs.ConfigError{Path: EnvSortMemory, Err: err}
		}
		p.Runtime.SortMemory = v
	}
	if v := getenv(EnvSpillDir); v != "" {
		p.Runtime.SpillDir = v
	}
	if v := getenv(EnvMaxErrors); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &errs.ConfigError{Path: EnvMaxErrors, Err: err}
		}
		p.Runtime.MaxErrors = n
	}
	return nil
}
