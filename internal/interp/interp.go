// SPDX-License-Identifier: MPL-2.0

// Package interp expands command templates into runnable commands. A
// template may carry a leading "return-code=" token selecting the accepted
// exit codes and leading NAME=value tokens that become per-command
// environment overrides; the rest is shell-tokenized and each token has its
// {variable} placeholders substituted.
package interp

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"mvdan.cc/sh/v3/shell"

	"revbench-cli/internal/procutil"
)

type (
	// Command is one fully interpolated command ready for execution.
	Command struct {
		Argv      []string
		Env       map[string]string
		ExitCodes procutil.ExitCodes
	}

	// Error reports a template whose placeholders could not be resolved.
	Error struct {
		Template string
		Variable string
	}
)

func (e *Error) Error() string {
	return fmt.Sprintf("command %q references unknown variable {%s}", e.Template, e.Variable)
}

const returnCodePrefix = "return-code="

var (
	placeholderRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)
	envTokenRe    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)
)

// Interpolate expands every template against vars. It fails fast: any
// unresolvable placeholder returns an error and no commands.
func Interpolate(templates []string, vars map[string]string) ([]Command, error) {
	out := make([]Command, 0, len(templates))
	for _, tmpl := range templates {
		cmd, err := interpolateOne(tmpl, vars)
		if err != nil {
			return nil, err
		}
		out = append(out, cmd)
	}
	return out, nil
}

func interpolateOne(tmpl string, vars map[string]string) (Command, error) {
	tokens, err := shell.Fields(tmpl, nil)
	if err != nil {
		return Command{}, fmt.Errorf("failed to tokenize command %q: %w", tmpl, err)
	}

	cmd := Command{Env: map[string]string{}}

	// Leading return-code= and NAME=value tokens configure the command,
	// they are not part of its argv.
	for len(tokens) > 0 {
		token := tokens[0]
		if strings.HasPrefix(token, returnCodePrefix) {
			codes, err := parseReturnCodes(strings.TrimPrefix(token, returnCodePrefix))
			if err != nil {
				return Command{}, fmt.Errorf("command %q: %w", tmpl, err)
			}
			cmd.ExitCodes = codes
			tokens = tokens[1:]
			continue
		}
		if envTokenRe.MatchString(token) {
			name, value, _ := strings.Cut(token, "=")
			cmd.Env[name] = value
			tokens = tokens[1:]
			continue
		}
		break
	}

	if len(tokens) == 0 {
		return Command{}, fmt.Errorf("command %q has no executable after option tokens", tmpl)
	}

	cmd.Argv = make([]string, len(tokens))
	for i, token := range tokens {
		expanded, err := substitute(token, tmpl, vars)
		if err != nil {
			return Command{}, err
		}
		cmd.Argv[i] = expanded
	}
	return cmd, nil
}

func substitute(token, tmpl string, vars map[string]string) (string, error) {
	var missing string
	expanded := placeholderRe.ReplaceAllStringFunc(token, func(m string) string {
		name := m[1 : len(m)-1]
		value, ok := vars[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return m
		}
		return value
	})
	if missing != "" {
		return "", &Error{Template: tmpl, Variable: missing}
	}
	return expanded, nil
}

func parseReturnCodes(spec string) (procutil.ExitCodes, error) {
	if spec == "any" {
		return procutil.ExitCodes{Any: true}, nil
	}
	parts := strings.Split(spec, ",")
	codes := make([]int, 0, len(parts))
	for _, part := range parts {
		code, err := strconv.Atoi(part)
		if err != nil {
			return procutil.ExitCodes{}, fmt.Errorf("invalid return-code value %q", spec)
		}
		codes = append(codes, code)
	}
	return procutil.ExitCodes{Codes: codes}, nil
}
