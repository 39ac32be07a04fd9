package shell

import "errors"

// Parser turns the tokens of a single segment into a Chain.
type Parser struct {
	tokens  []string
	current int
}

// NewParser creates a parser over the tokens of one segment.
func NewParser(tokens []string) *Parser {
	return &Parser{tokens: tokens}
}

// Parse consumes every token and returns the resulting chain. A segment with
// no tokens yields a nil chain and a nil error.
func (p *Parser) Parse() (*Chain, error) {
	var elements []Element
	for p.current < len(p.tokens) {
		pos := p.current
		element := p.parseNext()

		if element.IsOperator() {
			switch {
			case len(elements) == 0:
				return nil, p.errorAt(pos, ErrLeadingOperator)
			case elements[len(elements)-1].IsOperator():
				return nil, p.errorAt(pos, ErrAdjacentOperators)
			}
		}

		elements = append(elements, element)
	}

	if len(elements) == 0 {
		return nil, nil
	}

	if last := elements[len(elements)-1]; last.IsOperator() {
		return nil, p.errorAt(len(p.tokens)-1, ErrTrailingOperator)
	}

	return &Chain{Elements: elements}, nil
}

func (p *Parser) parseNext() Element {
	token := p.tokens[p.current]
	p.current++

	if kind, ok := operatorKind(token); ok {
		return OperatorElement(kind)
	}
	return Element{Kind: ElementCommand, Command: p.parseCommand(token)}
}

// parseCommand collects arguments up to the next operator or the end of the
// segment.
func (p *Parser) parseCommand(binary string) *Command {
	args := []string{}
	for ; p.current < len(p.tokens); p.current++ {
		token := p.tokens[p.current]
		if IsOperator(token) {
			break
		}
		args = append(args, token)
	}
	return &Command{Binary: binary, Args: args}
}

func (p *Parser) errorAt(pos int, err error) *ParseError {
	return &ParseError{Pos: pos, Token: p.tokens[pos], Err: err}
}

// ParseSegment tokenizes and parses one segment.
func ParseSegment(segment string) (*Chain, error) {
	return NewParser(Tokenize(segment)).Parse()
}

// ParseLine parses every segment of a line. Well-formed chains are returned in
// order; errors from malformed segments are joined together.
func ParseLine(line string) ([]*Chain, error) {
	var (
		chains []*Chain
		errs   []error
	)
	for _, segment := range SplitChains(line) {
		chain, err := ParseSegment(segment)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if chain != nil {
			chains = append(chains, chain)
		}
	}
	return chains, errors.Join(errs...)
}
