// Package flagparse holds command line value types shared by the commands.
package flagparse

import (
	"strings"

	"github.com/spf13/pflag"
)

// CommandList is a flag value holding shell commands. Each occurrence of the
// flag may carry a comma-separated list; quoted sections may contain commas.
type CommandList []string

var _ pflag.Value = (*CommandList)(nil)

func (l *CommandList) String() string {
	return strings.Join(*l, ",")
}

// Set appends the commands in s.
func (l *CommandList) Set(s string) error {
	*l = append(*l, ParseCmdList(s)...)
	return nil
}

func (l *CommandList) Type() string {
	return "commands"
}

// ParseCmdList splits a comma-separated list of shell commands. Quotes and
// backslash escapes are kept so the shell can interpret them.
func ParseCmdList(s string) []string {
	var (
		list      []string
		current   strings.Builder
		quoteChar rune
		escaped   bool
	)

	flush := func() {
		if item := strings.TrimSpace(current.String()); item != "" {
			list = append(list, item)
		}
		current.Reset()
	}

	for _, r := range s {
		if escaped {
			current.WriteRune(r)
			escaped = false
			continue
		}
		switch {
		case r == '\\':
			escaped = true
			current.WriteRune(r)
		case r == '\'' || r == '"':
			switch quoteChar {
			case 0:
				quoteChar = r
			case r:
				quoteChar = 0
			}
			current.WriteRune(r)
		case r == ',' && quoteChar == 0:
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return list
}
