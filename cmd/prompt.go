package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/adalundhe/docsync/core/credentials"
	derrors "github.com/adalundhe/docsync/core/errors"
	"github.com/adalundhe/docsync/core/host"
)

const (
	msgNeedsTerminal = "A decision is needed but docsync is not running in a terminal. Run the command again with --choice."
	msgLoginTerminal = "Logging in needs a terminal. Run 'docsync auth login --token <token>' instead."
)

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// newDecider returns a Decider presenting decisions as a terminal select.
// Without a terminal every decision fails.
func newDecider(in io.Reader, w io.Writer) host.Decider {
	if !isTerminal(in) {
		return host.DeciderFunc(func(context.Context, *host.Decision) (host.Choice, error) {
			return "", derrors.NewSyncError(derrors.KindValidation, msgNeedsTerminal, host.ErrNoDecider)
		})
	}
	return host.DeciderFunc(func(ctx context.Context, d *host.Decision) (host.Choice, error) {
		return selectChoice(ctx, in, w, d)
	})
}

// fixedDecider answers with choice whenever it is offered.
func fixedDecider(choice host.Choice) host.Decider {
	return host.DeciderFunc(func(_ context.Context, d *host.Decision) (host.Choice, error) {
		if !d.Has(choice) {
			return "", derrors.NewSyncError(derrors.KindValidation,
				fmt.Sprintf("%q is not an option here. Options: %s.", choice, optionList(d)), host.ErrInvalidChoice)
		}
		return choice, nil
	})
}

func optionList(d *host.Decision) string {
	names := make([]string, 0, len(d.Options))
	for _, o := range d.Options {
		names = append(names, string(o.Choice))
	}
	return strings.Join(names, ", ")
}

func selectChoice(ctx context.Context, in io.Reader, w io.Writer, d *host.Decision) (host.Choice, error) {
	choice, err := d.DefaultChoice()
	if err != nil {
		return "", err
	}

	options := make([]huh.Option[host.Choice], 0, len(d.Options))
	for _, o := range d.Options {
		label := o.Label
		if o.Description != "" {
			label += " - " + o.Description
		}
		options = append(options, huh.NewOption(label, o.Choice))
	}

	body := d.Body
	if d.Link != "" {
		body += "\n" + d.Link
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[host.Choice]().
				Title(d.Title).
				Description(body).
				Options(options...).
				Value(&choice),
		),
	).WithInput(in).WithOutput(w)

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) && d.Has(host.ChoiceCancel) {
			return host.ChoiceCancel, nil
		}
		return "", err
	}
	return choice, nil
}

// loginPrompter shows the authorization URL and takes a pasted token. An
// empty answer means the browser flow was completed.
type loginPrompter struct {
	in io.Reader
	w  io.Writer
}

func newLoginPrompter(in io.Reader, w io.Writer) credentials.LoginPrompter {
	return &loginPrompter{in: in, w: w}
}

func (p *loginPrompter) PromptLogin(ctx context.Context, authorizeURL string) (credentials.LoginResult, error) {
	if !isTerminal(p.in) {
		return credentials.LoginResult{}, derrors.NewSyncError(derrors.KindUnauthorized, msgLoginTerminal, nil)
	}

	var token string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Log in to GitHub").
				Description("Authorize docsync in your browser:\n"+authorizeURL),
			huh.NewInput().
				Title("Personal access token").
				Description("Paste a token, or leave empty once the browser flow is done.").
				EchoMode(huh.EchoModePassword).
				Value(&token),
		),
	).WithInput(p.in).WithOutput(p.w)

	if err := form.RunWithContext(ctx); err != nil {
		return credentials.LoginResult{}, err
	}
	return credentials.LoginResult{Token: strings.TrimSpace(token)}, nil
}
