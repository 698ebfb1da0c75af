// Package host defines what docsync needs from the editor hosting a document:
// somebody to answer decision requests, a supplier of the document's text and
// a place to report the dirty flag.
package host

import (
	"context"
	"errors"
)

var (
	ErrNoDecider      = errors.New("no decider available")
	ErrInvalidChoice  = errors.New("choice is not an option of the decision")
	ErrDecisionAbsent = errors.New("decision has no options")
)

// Choice identifies an option of a decision.
type Choice string

const (
	ChoiceMerge     Choice = "merge"
	ChoiceNewBranch Choice = "new-branch"
	ChoiceOverwrite Choice = "overwrite"
	ChoiceFork      Choice = "fork"
	ChoiceCancel    Choice = "cancel"
)

// DecisionKind tells the host what kind of modal it is presenting.
type DecisionKind int

const (
	DecisionConflict DecisionKind = iota
	DecisionForkOffer
)

var decisionKindNames = map[DecisionKind]string{
	DecisionConflict:  "conflict",
	DecisionForkOffer: "fork_offer",
}

func (k DecisionKind) String() string {
	if name, ok := decisionKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Option is one button of a decision.
type Option struct {
	Choice      Choice
	Label       string
	Description string
	Default     bool
}

// Decision describes a modal the host must present. It carries no UI.
type Decision struct {
	ID    string
	Kind  DecisionKind
	Title string
	Body  string
	// Link is an optional reference the user can open, e.g. a diff.
	Link    string
	Options []Option
}

// Has reports whether c is one of the decision's options.
func (d *Decision) Has(c Choice) bool {
	for _, o := range d.Options {
		if o.Choice == c {
			return true
		}
	}
	return false
}

// DefaultChoice returns the option marked default, or the first option.
func (d *Decision) DefaultChoice() (Choice, error) {
	if len(d.Options) == 0 {
		return "", ErrDecisionAbsent
	}
	for _, o := range d.Options {
		if o.Default {
			return o.Choice, nil
		}
	}
	return d.Options[0].Choice, nil
}

// Without returns a copy of the decision lacking the given choice.
func (d *Decision) Without(c Choice) *Decision {
	out := *d
	out.Options = make([]Option, 0, len(d.Options))
	for _, o := range d.Options {
		if o.Choice != c {
			out.Options = append(out.Options, o)
		}
	}
	return &out
}

// Decider presents a decision and reports the chosen option.
type Decider interface {
	Decide(ctx context.Context, d *Decision) (Choice, error)
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, d *Decision) (Choice, error)

func (f DeciderFunc) Decide(ctx context.Context, d *Decision) (Choice, error) {
	return f(ctx, d)
}

// ContentSupplier returns the current text of the open document on demand.
type ContentSupplier interface {
	Content(ctx context.Context) (string, error)
}

// DirtyTracker records whether the document has unsaved remote changes.
type DirtyTracker interface {
	SetDirty(dirty bool)
	Dirty() bool
}

// Document is the host's view of one open document.
type Document interface {
	ContentSupplier
	DirtyTracker
}
