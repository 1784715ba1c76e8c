// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvString is a config value that may carry a literal `!ENV VAR` YAML tag.
// Unmarshal resolves the tag against the process environment; Marshal
// preserves the original `!ENV VAR` tag rather than inlining the resolved
// value: load -> dump -> load yields the original `!ENV` marker, not the
// resolved string.
type EnvString struct {
	Raw      string // literal value, or the VAR name when EnvTagged
	Resolved string // value after environment resolution
	EnvTagged bool
}

const envTag = "!ENV"

func (e *EnvString) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == envTag {
		varName := strings.TrimSpace(node.Value)
		e.Raw = varName
		e.EnvTagged = true
		if v, ok := os.LookupEnv(varName); ok {
			e.Resolved = v
		} else {
			e.Resolved = ""
		}
		return nil
	}
	var plain string
	if err := node.Decode(&plain); err != nil {
		return fmt.Errorf("decoding plain config value: %w", err)
	}
	e.Raw = plain
	e.Resolved = plain
	e.EnvTagged = false
	return nil
}

func (e EnvString) MarshalYAML() (interface{}, error) {
	if e.EnvTagged {
		return &yaml.Node{
			Kind:  yaml.ScalarNode,
			Tag:   envTag,
			Value: e.Raw,
		}, nil
	}
	return e.Raw, nil
}

// Value returns the resolved value to use at runtime.
func (e EnvString) Value() string { return e.Resolved }

func (e EnvString) String() string { return e.Resolved }
