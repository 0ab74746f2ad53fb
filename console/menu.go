// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

package console

import (
	"strings"

	"github.com/pkg/errors"
)

// Step is one stage of a command.
type Step struct {
	// Name describes the step in error reports, e.g. "turning modem on".
	Name string
	Run  func() error

	// Quiet suppresses the failure report for a step that reports its own
	// failures.
	Quiet bool
}

// Policy determines how a command reacts to a failing step.
type Policy int

const (
	// FailFast stops at the first failing step.
	//
	// No rollback is attempted; the modem is left in whatever state the
	// failed step left it.
	FailFast Policy = iota

	// CollectAll runs every step regardless of failures.
	CollectAll
)

func (p Policy) String() string {
	switch p {
	case FailFast:
		return "fail-fast"
	case CollectAll:
		return "collect-all"
	}
	return "unknown"
}

// Run performs the steps in order, reporting each failure to the session.
//
// For FailFast the error returned is that of the failing step. For
// CollectAll it summarises the number of failed steps.
func (p Policy) Run(s *Session, steps []Step) error {
	failed := 0
	var first error
	for _, step := range steps {
		err := step.Run()
		if err == nil {
			continue
		}
		if !step.Quiet {
			s.Printf("Error %s: %v\n", step.Name, err)
		}
		if p == FailFast {
			return err
		}
		if first == nil {
			first = err
		}
		failed++
	}
	if failed > 0 {
		return errors.Wrapf(first, "%d of %d steps failed", failed, len(steps))
	}
	return nil
}

// Item is one entry in the command table.
type Item struct {
	// Command is the token that selects the item. It is matched exactly and
	// is case sensitive.
	Command string

	// Help is the optional one line description shown by help.
	Help string

	// Policy determines how the Steps react to failure.
	Policy Policy

	// Steps returns the steps to perform for one invocation.
	//
	// The args are the remainder of the command line after the command
	// token and the following whitespace.
	Steps func(s *Session, args string) []Step

	// Finish, if set, is called after the steps with the result.
	Finish func(s *Session, err error)
}

// Invoke runs the item with the args.
func (i *Item) Invoke(s *Session, args string) error {
	var steps []Step
	if i.Steps != nil {
		steps = i.Steps(s, args)
	}
	err := i.Policy.Run(s, steps)
	if i.Finish != nil {
		i.Finish(s, err)
	}
	return err
}

// Menu is the ordered command table.
type Menu struct {
	Label string
	Items []*Item
}

// Lookup returns the first item whose command exactly matches the token.
func (m *Menu) Lookup(token string) *Item {
	for _, item := range m.Items {
		if item.Command == token {
			return item
		}
	}
	return nil
}

// Validate checks that every command token is non-empty, contains no
// whitespace, and is unique within the menu.
func (m *Menu) Validate() error {
	seen := make(map[string]bool)
	for _, item := range m.Items {
		if item.Command == "" || strings.ContainsAny(item.Command, whitespace) {
			return errors.Wrapf(ErrInvalidCommand, "%q", item.Command)
		}
		if seen[item.Command] {
			return errors.Wrapf(ErrDuplicateCommand, "%q", item.Command)
		}
		seen[item.Command] = true
	}
	return nil
}

const whitespace = " \t"

var (
	// ErrDuplicateCommand indicates a command token appears more than once
	// in a menu.
	ErrDuplicateCommand = errors.New("duplicate command")

	// ErrInvalidCommand indicates a command token that could never be
	// matched.
	ErrInvalidCommand = errors.New("invalid command")
)
