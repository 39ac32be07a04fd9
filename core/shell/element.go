package shell

import "strings"

// Operator literals recognized by the parser.
const (
	OpAnd  = "&&"
	OpOr   = "||"
	OpPipe = "|"

	// ChainSeparator splits a line into independent chains.
	ChainSeparator = ";"
)

// ElementKind tags the variant held by an Element.
type ElementKind int

const (
	ElementCommand ElementKind = iota
	ElementAnd
	ElementOr
	ElementPipe
)

func (k ElementKind) String() string {
	switch k {
	case ElementCommand:
		return "command"
	case ElementAnd:
		return OpAnd
	case ElementOr:
		return OpOr
	case ElementPipe:
		return OpPipe
	default:
		return "unknown"
	}
}

// Command is a single program invocation.
type Command struct {
	Binary string
	Args   []string
}

// Argv returns the binary followed by its arguments.
func (c *Command) Argv() []string {
	return append([]string{c.Binary}, c.Args...)
}

func (c *Command) String() string {
	return strings.Join(c.Argv(), " ")
}

// Element is either a control operator or a Command. Command is non-nil
// exactly when Kind is ElementCommand.
type Element struct {
	Kind    ElementKind
	Command *Command
}

// CommandElement wraps a command.
func CommandElement(binary string, args ...string) Element {
	if args == nil {
		args = []string{}
	}
	return Element{Kind: ElementCommand, Command: &Command{Binary: binary, Args: args}}
}

// OperatorElement returns the operator element for kind.
func OperatorElement(kind ElementKind) Element {
	return Element{Kind: kind}
}

// IsOperator reports whether the element is a control or pipe operator.
func (e Element) IsOperator() bool {
	return e.Kind != ElementCommand
}

func (e Element) String() string {
	if e.Kind == ElementCommand {
		return e.Command.String()
	}
	return e.Kind.String()
}

// operatorKind maps a token to its operator kind.
func operatorKind(token string) (ElementKind, bool) {
	switch token {
	case OpAnd:
		return ElementAnd, true
	case OpOr:
		return ElementOr, true
	case OpPipe:
		return ElementPipe, true
	default:
		return ElementCommand, false
	}
}

// IsOperator reports whether token is one of the operator literals.
func IsOperator(token string) bool {
	_, ok := operatorKind(token)
	return ok
}

// Chain is the parsed form of one ;-separated segment. Chains produced by the
// parser are never empty, never start or end with an operator and never hold
// two adjacent operators.
type Chain struct {
	Elements []Element
}

func (c *Chain) String() string {
	parts := make([]string, 0, len(c.Elements))
	for _, e := range c.Elements {
		parts = append(parts, e.String())
	}
	return strings.Join(parts, " ")
}
