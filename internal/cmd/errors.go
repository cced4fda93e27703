package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/huh"

	"github.com/dotcommander/codingagency/internal/errs"
	"github.com/dotcommander/codingagency/internal/present"
)

// exitInterrupted is the conventional status after SIGINT.
const exitInterrupted = 130

// exitCode maps a failed run to the process exit status.
func exitCode(err error) int {
	if errors.Is(err, context.Canceled) || errors.Is(err, huh.ErrUserAborted) {
		return exitInterrupted
	}
	return 1
}

// renderError writes err for the user. Flag mistakes get a pointer to the
// help, and errs.Error shows its reason above the technical detail.
func renderError(w io.Writer, s present.Styles, err error) {
	const format = "\n%s\n\n"

	var ferr flagParseError
	if errors.As(err, &ferr) {
		fmt.Fprintf(w, format+"%s\n\n",
			fmt.Sprintf("Check out %s %s", s.InlineCode.Render("codingagency -h"), s.Comment.Render("for help.")),
			fmt.Sprintf(ferr.ReasonFormat(), s.InlineCode.Render(ferr.Flag())),
		)
		return
	}

	var merr errs.Error
	switch {
	case errors.As(err, &merr):
	case errors.Is(err, context.Canceled):
		fmt.Fprintf(w, format, s.ErrPadding.Render(s.Comment.Render("Canceled.")))
		return
	case errors.Is(err, context.DeadlineExceeded):
		merr = errs.Wrapf(err, "The turn ran out of time; raise %s to allow longer turns.", s.InlineCode.Render("--request-timeout"))
	default:
		fmt.Fprintf(w, format, s.ErrPadding.Render(s.ErrorDetails.Render(err.Error())))
		return
	}

	fmt.Fprintf(w, format, s.ErrPadding.Render(s.ErrorHeader.String(), merr.Reason))
	if merr.Err != nil && !errors.Is(merr.Err, huh.ErrUserAborted) {
		fmt.Fprintf(w, "%s\n\n", s.ErrPadding.Render(s.ErrorDetails.Render(merr.Err.Error())))
	}
}
