package ui

import (
	"github.com/charmbracelet/huh"
)

// Confirm asks a yes/no question. Without a terminal it returns def.
func Confirm(title, description string, def bool) (bool, error) {
	if !IsInteractive() {
		return def, nil
	}
	ok := def
	err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Description(description).
			Affirmative("Yes").
			Negative("No").
			Value(&ok),
	)).Run()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Option is one choice offered by Select.
type Option struct {
	Label string
	Value string
}

// Select asks the user to pick one option, starting at current. Without a
// terminal it returns current.
func Select(title string, options []Option, current string) (string, error) {
	if !IsInteractive() {
		return current, nil
	}
	choice := current
	opts := make([]huh.Option[string], 0, len(options))
	for _, o := range options {
		opts = append(opts, huh.NewOption(o.Label, o.Value))
	}
	err := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(title).
			Options(opts...).
			Value(&choice),
	)).Run()
	if err != nil {
		return "", err
	}
	return choice, nil
}
