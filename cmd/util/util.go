package util

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"

	"github.com/lightfold/catsync/pkg/errors"
)

// Mocked for unit testing.
var (
	exit             = os.Exit
	stderr io.Writer = os.Stderr
	stdout io.Writer = os.Stdout
	stdin  io.Reader = os.Stdin
)

// Exit codes reported by HandleFatalError. Conflicts are distinguishable
// from all other failures.
const (
	ExitError    = 1
	ExitConflict = 2
)

// HandleFatalError prints the friendly form of the error and exits with
// the code matching its kind. It never returns.
func HandleFatalError(err error) {
	code := ExitError
	if errors.IsConflict(err) {
		code = ExitConflict
	}

	fmt.Fprintln(stderr, errors.GetPrintableMessage(err))
	exit(code)
}

// HandlePanic turns a panic in the main goroutine into a bug report
// prompt. Install it with defer before any real work happens.
func HandlePanic() {
	r := recover()
	if r == nil {
		return
	}

	fmt.Fprintf(stderr, "catsync crashed: %v\n\n%s\n", r, debug.Stack())
	fmt.Fprintln(stderr, "This is a bug. Please run `catsync bug-tool` and "+
		"attach the generated archive to your report.")
	exit(ExitError)
}

// PromptYesOrNo asks the user a yes or no question, and returns their
// response as a boolean.
func PromptYesOrNo(prompt string) (bool, error) {
	reader := bufio.NewReader(stdin)
	for {
		fmt.Fprintf(stdout, "%s (y/n): ", prompt)

		resp, err := reader.ReadString('\n')
		if err != nil {
			return false, err
		}

		switch strings.ToLower(strings.TrimSpace(resp)) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
	}
}
