package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadProfile reads a YAML encoder profile from path. Fields absent from the
// file keep their value from base; unknown keys are rejected so that typos
// do not silently fall back to defaults.
//
//	codec: libx264
//	preset: medium
//	crf: 18
//	extra_args: ["-tune", "animation"]
func LoadProfile(path string, base EncoderProfile) (EncoderProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read encoder profile: %w", err)
	}

	p := base
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return base, fmt.Errorf("parse encoder profile %s: %w", path, err)
	}
	if err := validateProfile(&p); err != nil {
		return base, err
	}
	return p, nil
}
