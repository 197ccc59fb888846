package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Save writes cfg to path as YAML, creating parent directories.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf strings.Builder
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	encoder.Close()

	if err := os.WriteFile(path, []byte(buf.String()), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// AddHost appends a host to the config file's hosts list.
// It preserves the existing YAML structure and comments.
// If a host with the same name already exists, it does nothing.
func AddHost(configPath string, h HostConfig) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse as yaml.Node to preserve structure
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return fmt.Errorf("invalid YAML document structure")
	}

	docNode := root.Content[0]
	if docNode.Kind != yaml.MappingNode {
		return fmt.Errorf("expected mapping at document root")
	}

	hostsNode := findMapValue(docNode, "hosts")
	if hostsNode == nil {
		hostsNode = &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		docNode.Content = append(docNode.Content, scalar("hosts"), hostsNode)
	}
	if hostsNode.Kind != yaml.SequenceNode {
		// "hosts: []" and "hosts:" both need to become a block sequence.
		*hostsNode = yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	}
	hostsNode.Style = 0

	for _, item := range hostsNode.Content {
		if name := findMapValue(item, "name"); name != nil && name.Value == h.Name {
			return nil
		}
	}

	hostsNode.Content = append(hostsNode.Content, hostNode(h))

	var buf strings.Builder
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&root); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	encoder.Close()

	if err := os.WriteFile(configPath, []byte(buf.String()), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// hostNode builds the mapping node for one host, omitting empty fields.
func hostNode(h HostConfig) *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	add := func(key, value, tag string) {
		if value == "" {
			return
		}
		v := scalar(value)
		v.Tag = tag
		node.Content = append(node.Content, scalar(key), v)
	}

	add("name", h.Name, "!!str")
	add("hostname", h.Hostname, "!!str")
	if h.Port != 0 {
		add("port", strconv.Itoa(h.Port), "!!int")
	}
	add("user", h.User, "!!str")
	add("proxy_jump", h.ProxyJump, "!!str")
	if len(h.Aliases) > 0 {
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Style: yaml.FlowStyle}
		for _, a := range h.Aliases {
			seq.Content = append(seq.Content, scalar(a))
		}
		node.Content = append(node.Content, scalar("aliases"), seq)
	}
	return node
}

func scalar(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}

// findMapValue finds a value in a mapping node by key name.
func findMapValue(node *yaml.Node, key string) *yaml.Node {
	if node.Kind != yaml.MappingNode {
		return nil
	}

	for i := 0; i < len(node.Content)-1; i += 2 {
		keyNode := node.Content[i]
		valueNode := node.Content[i+1]

		if keyNode.Kind == yaml.ScalarNode && keyNode.Value == key {
			return valueNode
		}
	}

	return nil
}
