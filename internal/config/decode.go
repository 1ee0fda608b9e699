package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// decodeYAML walks the node tree so mapping order survives. JSON is a subset
// of YAML flow syntax, so the same path handles .stagerunrc.json.
func decodeYAML(data []byte) ([]Rule, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalid)
	}

	root := resolveAlias(doc.Content[0])
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level must be a mapping of pattern to commands", ErrInvalid)
	}

	rules := make([]Rule, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := resolveAlias(root.Content[i])
		value := resolveAlias(root.Content[i+1])

		if key.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("%w: line %d: pattern must be a string", ErrInvalid, key.Line)
		}

		commands, err := yamlCommands(value)
		if err != nil {
			return nil, fmt.Errorf("%w: pattern %q (line %d): %v", ErrInvalid, key.Value, value.Line, err)
		}
		rules = append(rules, Rule{Pattern: key.Value, Commands: commands})
	}

	return rules, nil
}

func yamlCommands(node *yaml.Node) ([]string, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag != "!!str" {
			return nil, fmt.Errorf("command must be a string, got %s", node.Tag)
		}
		return []string{node.Value}, nil
	case yaml.SequenceNode:
		commands := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			item = resolveAlias(item)
			if item.Kind != yaml.ScalarNode || item.Tag != "!!str" {
				return nil, fmt.Errorf("list entries must be strings")
			}
			commands = append(commands, item.Value)
		}
		return commands, nil
	default:
		return nil, fmt.Errorf("expected a command string or a list of command strings")
	}
}

func resolveAlias(node *yaml.Node) *yaml.Node {
	for node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}
	return node
}

// decodeTOML relies on MetaData.Keys, which reports keys in document order.
// Patterns must be quoted keys: "*.go" = ["make fmt", "make vet"].
func decodeTOML(data []byte) ([]Rule, error) {
	var raw map[string]any
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var rules []Rule
	for _, key := range md.Keys() {
		if len(key) != 1 {
			continue
		}
		pattern := key[0]

		commands, err := tomlCommands(raw[pattern])
		if err != nil {
			return nil, fmt.Errorf("%w: pattern %q: %v", ErrInvalid, pattern, err)
		}
		rules = append(rules, Rule{Pattern: pattern, Commands: commands})
	}

	return rules, nil
}

func tomlCommands(value any) ([]string, error) {
	switch v := value.(type) {
	case string:
		return []string{v}, nil
	case []any:
		commands := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("list entries must be strings")
			}
			commands = append(commands, s)
		}
		return commands, nil
	default:
		return nil, fmt.Errorf("expected a command string or a list of command strings")
	}
}
