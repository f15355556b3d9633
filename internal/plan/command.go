package plan

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Command is an external command line. In YAML it may be a string (split on
// whitespace), a list of arguments, or a mapping with a "command" key holding
// either form.
type Command struct {
	Argv []string `json:"argv,omitempty"`
}

// IsZero reports whether no command was configured.
func (c Command) IsZero() bool { return len(c.Argv) == 0 }

// String renders the command for messages.
func (c Command) String() string { return strings.Join(c.Argv, " ") }

// With returns a copy with extra arguments appended.
func (c Command) With(args ...string) Command {
	argv := make([]string, 0, len(c.Argv)+len(args))
	argv = append(argv, c.Argv...)
	return Command{Argv: append(argv, args...)}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *Command) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		c.Argv = strings.Fields(value.Value)
		return nil
	case yaml.SequenceNode:
		var argv []string
		if err := value.Decode(&argv); err != nil {
			return err
		}
		c.Argv = argv
		return nil
	case yaml.MappingNode:
		var wrapped struct {
			Command *Command `yaml:"command"`
		}
		if err := value.Decode(&wrapped); err != nil {
			return err
		}
		if wrapped.Command == nil {
			return fmt.Errorf("line %d: command mapping must have a 'command' key", value.Line)
		}
		*c = *wrapped.Command
		return nil
	default:
		return fmt.Errorf("line %d: command must be a string, list, or mapping", value.Line)
	}
}

// MarshalYAML renders the command back as a single string.
func (c Command) MarshalYAML() (any, error) {
	if c.IsZero() {
		return nil, nil
	}
	return c.String(), nil
}
