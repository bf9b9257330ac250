package keyring

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// openTerminal returns the controlling terminal, falling back to stdin
func openTerminal() (*os.File, func()) {
	tty, err := os.Open("/dev/tty")
	if err != nil {
		return os.Stdin, func() {}
	}
	return tty, func() { tty.Close() }
}

// IsInteractive reports whether the user can be prompted
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// PromptSecret prompts for a secret without echo
func PromptSecret(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)

	tty, closeTTY := openTerminal()
	defer closeTTY()

	secret, err := term.ReadPassword(int(tty.Fd()))
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return strings.TrimSpace(string(secret)), nil
}

// PromptAndConfirmSecret prompts for a secret twice and confirms they match
func PromptAndConfirmSecret(label string) (string, error) {
	first, err := PromptSecret(label)
	if err != nil {
		return "", err
	}
	if first == "" {
		return "", errors.New("secret must not be empty")
	}

	second, err := PromptSecret("Confirm " + strings.ToLower(label[:1]) + label[1:])
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("secrets do not match")
	}
	return first, nil
}

// PromptLine asks for a line of text, returning initial when the answer is empty
func PromptLine(label, initial string) (string, error) {
	tty, closeTTY := openTerminal()
	defer closeTTY()
	return readLine(tty, os.Stderr, label, initial)
}

func readLine(in io.Reader, out io.Writer, label, initial string) (string, error) {
	if initial != "" {
		fmt.Fprintf(out, "%s [%s]: ", label, initial)
	} else {
		fmt.Fprintf(out, "%s: ", label)
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read answer: %w", err)
	}
	if answer := strings.TrimSpace(line); answer != "" {
		return answer, nil
	}
	return initial, nil
}

// Confirm asks a yes/no question
func Confirm(label string, initial bool) (bool, error) {
	hint := "y/N"
	if initial {
		hint = "Y/n"
	}
	answer, err := PromptLine(label+" ("+hint+")", "")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "":
		return initial, nil
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
