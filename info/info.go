// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

// Package info provides utility functions for manipulating info lines returned
// by the modem in response to AT commands.
//
// The cmd passed to these functions is the command identifier, such as
// "+CEREG" or "%XSYSTEMMODE", without the AT prefix.
package info

import "strings"

// HasPrefix returns true if the line begins with the info prefix for the command.
func HasPrefix(line, cmd string) bool {
	return strings.HasPrefix(line, cmd+":")
}

// TrimPrefix removes the command prefix, if any, and any intervening space
// from the info line.
func TrimPrefix(line, cmd string) string {
	return strings.TrimLeft(strings.TrimPrefix(line, cmd+":"), " ")
}

// Fields splits the info line, after removing the command prefix, into its
// comma separated fields.
//
// Commas within double quotes do not split fields, and the enclosing quotes
// are removed from quoted fields.
func Fields(line, cmd string) []string {
	s := TrimPrefix(line, cmd)
	if s == "" {
		return nil
	}
	var fields []string
	var f strings.Builder
	quoted := false
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
		case r == ',' && !quoted:
			fields = append(fields, strings.TrimSpace(f.String()))
			f.Reset()
		default:
			f.WriteRune(r)
		}
	}
	return append(fields, strings.TrimSpace(f.String()))
}

// Find returns the first line in the info for the command, with the prefix
// removed.
func Find(lines []string, cmd string) (string, bool) {
	for _, l := range lines {
		if HasPrefix(l, cmd) {
			return TrimPrefix(l, cmd), true
		}
	}
	return "", false
}
