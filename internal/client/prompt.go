package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Prompter reads answers line by line and writes questions to its output.
type Prompter struct {
	scanner *bufio.Scanner
	out     io.Writer
}

// NewPrompter returns a Prompter over in and out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{scanner: bufio.NewScanner(in), out: out}
}

// Ask prints question and returns the trimmed answer.
func (p *Prompter) Ask(question string) (string, error) {
	fmt.Fprint(p.out, question)
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.ErrUnexpectedEOF
	}
	return strings.TrimSpace(p.scanner.Text()), nil
}

// PromptNewCredential asks for the three fields of a new credential.
func (p *Prompter) PromptNewCredential() (CredentialFields, error) {
	name, err := p.Ask("Account name: ")
	if err != nil {
		return CredentialFields{}, err
	}
	username, err := p.Ask("Account username: ")
	if err != nil {
		return CredentialFields{}, err
	}
	password, err := p.askPassword("Password (or @file to read it from a file): ")
	if err != nil {
		return CredentialFields{}, err
	}
	return CredentialFields{AccountName: &name, AccountUsername: &username, PasswordPlain: &password}, nil
}

// PromptEditCredential asks for new values; empty answers keep the current value.
func (p *Prompter) PromptEditCredential() (CredentialFields, error) {
	var f CredentialFields

	name, err := p.Ask("New account name (empty to keep): ")
	if err != nil {
		return f, err
	}
	if name != "" {
		f.AccountName = &name
	}
	username, err := p.Ask("New account username (empty to keep): ")
	if err != nil {
		return f, err
	}
	if username != "" {
		f.AccountUsername = &username
	}
	password, err := p.askPassword("New password, @file to read it from a file (empty to keep): ")
	if err != nil {
		return f, err
	}
	if password != "" {
		f.PasswordPlain = &password
	}

	if f.Empty() {
		return f, errors.New("nothing to change")
	}
	return f, nil
}

// askPassword reads a password. An answer of the form @path loads it from a file.
func (p *Prompter) askPassword(question string) (string, error) {
	answer, err := p.Ask(question)
	if err != nil {
		return "", err
	}
	path, ok := strings.CutPrefix(answer, "@")
	if !ok {
		return answer, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file %q: %w", path, err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}
