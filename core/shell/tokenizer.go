package shell

import "strings"

// SplitChains breaks a line into its ;-separated segments. Empty and
// whitespace-only segments are dropped.
func SplitChains(line string) []string {
	var out []string
	for _, segment := range strings.Split(line, ChainSeparator) {
		if strings.TrimSpace(segment) == "" {
			continue
		}
		out = append(out, segment)
	}
	return out
}

// Tokenize splits a segment into words on runs of whitespace. Quotes and
// backslashes have no special meaning.
func Tokenize(segment string) []string {
	return strings.Fields(segment)
}

// trimLineEnding removes a single trailing \n or \r\n.
func trimLineEnding(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}
