package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// GetPath retrieves a value from the configuration using a dot-notation path
// ("comm.capacity") or an entity address ("command:motor.move").
func (c *Config) GetPath(path string) (any, error) {
	if strings.Contains(path, ":") {
		return c.GetEntity(path)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return getValue(m, path)
}

// GetEntity retrieves a command by command:name, or all of them with command:*.
func (c *Config) GetEntity(address string) (any, error) {
	entityType, name, ok := strings.Cut(address, ":")
	if !ok {
		return nil, fmt.Errorf("invalid entity address format %q (expected type:name)", address)
	}

	switch entityType {
	case "command":
		if name == "*" {
			return c.Commands, nil
		}
		cmd, ok := c.Command(name)
		if !ok {
			return nil, fmt.Errorf("command %q not found", name)
		}
		return cmd, nil
	default:
		return nil, fmt.Errorf("unsupported entity type %q", entityType)
	}
}

// Command looks up a command by name.
func (c *Config) Command(name string) (CommandConfig, bool) {
	for _, cmd := range c.Commands {
		if cmd.Name == name {
			return cmd, true
		}
	}
	return CommandConfig{}, false
}

func getValue(m map[string]any, path string) (any, error) {
	parts := strings.Split(path, ".")
	var current any = m

	for _, part := range parts {
		if part == "" {
			continue
		}

		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %q breaks at %q (not a map)", path, part)
		}

		val, exists := m[part]
		if !exists {
			return nil, fmt.Errorf("path %q: key %q not found", path, part)
		}
		current = val
	}

	return current, nil
}

// SetPath modifies a scalar at path in the source file. With persist the
// file is rewritten and reloaded; a change that fails validation is rolled
// back. Command fields are addressed as command:name.field.
func (c *Config) SetPath(path, value string, persist bool) error {
	if c.source == "" {
		return fmt.Errorf("no valid configuration source found")
	}

	data, err := os.ReadFile(c.source)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return fmt.Errorf("no valid configuration source found")
	}
	start := root.Content[0]

	if strings.Contains(path, ":") {
		// command names may contain dots, the field is the last element
		i := strings.LastIndex(path, ".")
		if i < 0 {
			return fmt.Errorf("must specify a field to set (e.g., %s.timeout=50ms)", path)
		}
		addr, field := path[:i], path[i+1:]
		etype, ename, _ := strings.Cut(addr, ":")
		if etype != "command" {
			return fmt.Errorf("unsupported entity type for set: %q", etype)
		}
		start, err = findCommandNode(start, ename)
		if err != nil {
			return err
		}
		path = field
	}

	target, err := findNode(start, path, true)
	if err != nil {
		return fmt.Errorf("failed to navigate/create path %q: %w", path, err)
	}

	target.Kind = yaml.ScalarNode
	target.Value = value
	target.Tag = guessTag(value)
	target.Content = nil

	if !persist {
		return nil
	}

	candidate, err := yaml.Marshal(&root)
	if err != nil {
		return err
	}

	return c.persistWithValidation(candidate)
}

func findCommandNode(root *yaml.Node, name string) (*yaml.Node, error) {
	seq, err := findNode(root, "commands", false)
	if err != nil {
		return nil, fmt.Errorf("no commands configured")
	}
	if seq.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("commands is not a list")
	}
	for _, item := range seq.Content {
		n, err := findNode(item, "name", false)
		if err == nil && n.Value == name {
			return item, nil
		}
	}
	return nil, fmt.Errorf("command %q not found", name)
}

func findNode(node *yaml.Node, path string, create bool) (*yaml.Node, error) {
	parts := strings.Split(path, ".")
	current := node

	for _, part := range parts {
		if current.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("not a mapping node")
		}

		found := false
		for i := 0; i < len(current.Content); i += 2 {
			if current.Content[i].Value == part {
				current = current.Content[i+1]
				found = true
				break
			}
		}

		if !found {
			if !create {
				return nil, fmt.Errorf("key %q not found", part)
			}
			keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: part}
			// overwritten by the scalar if this is the last part
			valueNode := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			current.Content = append(current.Content, keyNode, valueNode)
			current = valueNode
		}
	}

	return current, nil
}

func guessTag(v string) string {
	if v == "true" || v == "false" {
		return "!!bool"
	}
	isDigit := true
	for i, c := range v {
		if i == 0 && c == '-' {
			continue
		}
		if c < '0' || c > '9' {
			isDigit = false
			break
		}
	}
	if isDigit && v != "" && v != "-" {
		return "!!int"
	}
	return "!!str"
}

func (c *Config) persistWithValidation(candidate []byte) error {
	target := c.source
	original, err := os.ReadFile(target)
	if err != nil {
		return fmt.Errorf("failed to read original config file: %w", err)
	}

	mode := os.FileMode(0644)
	if info, statErr := os.Stat(target); statErr == nil {
		mode = info.Mode().Perm()
	}

	if err := os.WriteFile(target, candidate, mode); err != nil {
		return fmt.Errorf("failed to persist config change: %w", err)
	}

	// a locked config stays locked after an edit
	if _, err := LoadChecksums(filepath.Dir(target)); err == nil {
		if _, err := Lock(target, false); err != nil {
			_ = os.WriteFile(target, original, mode)
			return fmt.Errorf("failed to relock config: %w", err)
		}
	}

	if _, err := Load(target); err != nil {
		restoreErr := os.WriteFile(target, original, mode)
		if restoreErr == nil {
			if _, lerr := LoadChecksums(filepath.Dir(target)); lerr == nil {
				_, restoreErr = Lock(target, false)
			}
		}
		if restoreErr != nil {
			return fmt.Errorf("validation failed (%v) and rollback failed (%v)", err, restoreErr)
		}
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}
