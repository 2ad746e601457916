// Package prompt collects missing configuration interactively. It is an
// input adapter only: everything it gathers lands in the explicit Config
// struct, and the pipeline never talks to the terminal itself.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/skiff-cd/skiff/config"
	"github.com/skiff-cd/skiff/secret"
	"golang.org/x/term"
)

// Prompter reads answers from a terminal or any reader (for tests).
type Prompter struct {
	in           *bufio.Reader
	out          io.Writer
	readPassword func() (string, error)
}

// New returns a Prompter bound to stdin/stderr. Secrets are read without
// terminal echo when stdin is a terminal.
func New() *Prompter {
	p := &Prompter{
		in:  bufio.NewReader(os.Stdin),
		out: os.Stderr,
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		p.readPassword = func() (string, error) {
			b, err := term.ReadPassword(int(os.Stdin.Fd()))
			return string(b), err
		}
	}
	return p
}

// NewForTest returns a Prompter reading from r and writing to w, with
// secrets read in plain text.
func NewForTest(r io.Reader, w io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(r), out: w}
}

// Ask prompts for a single value, returning def when the answer is empty.
func (p *Prompter) Ask(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}

	line, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read input: %w", err)
	}

	answer := strings.TrimSpace(line)
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

// AskSecret prompts for a value without echoing it. The raw value is
// returned to the caller; only its masked form is ever displayed.
func (p *Prompter) AskSecret(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)

	if p.readPassword != nil {
		value, err := p.readPassword()
		fmt.Fprintln(p.out)
		if err != nil {
			return "", fmt.Errorf("failed to read secret: %w", err)
		}
		return strings.TrimSpace(value), nil
	}

	// Not a terminal: fall back to a plain line read
	line, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// Complete fills every configuration field that is still missing, in the
// fixed order the operator expects. Fields already present (from the
// environment) are not asked again. Cleanup mode skips the fields the
// teardown path does not need.
func (p *Prompter) Complete(cfg *config.Config, cleanup bool) error {
	var err error

	if cfg.RepoURL == "" {
		if cfg.RepoURL, err = p.Ask("Repository URL", ""); err != nil {
			return err
		}
	}

	if !cleanup && cfg.GitToken == "" {
		token, err := p.AskSecret("Git access token")
		if err != nil {
			return err
		}
		cfg.GitToken = token
		if token != "" {
			fmt.Fprintf(p.out, "Using token %s\n", secret.Mask(token))
		}
	}

	if cfg.Branch == "" {
		if cfg.Branch, err = p.Ask("Branch", "main"); err != nil {
			return err
		}
	}

	if cfg.RemoteUser == "" {
		if cfg.RemoteUser, err = p.Ask("Remote username", ""); err != nil {
			return err
		}
	}

	if cfg.RemoteHost == "" {
		if cfg.RemoteHost, err = p.Ask("Remote host or IP", ""); err != nil {
			return err
		}
	}

	if cfg.SSHKeyPath == "" {
		if cfg.SSHKeyPath, err = p.Ask("Path to SSH private key", defaultKeyPath()); err != nil {
			return err
		}
	}

	if !cleanup && cfg.AppPort == 0 {
		answer, err := p.Ask("Application internal port", "")
		if err != nil {
			return err
		}
		if answer != "" {
			port, err := strconv.Atoi(answer)
			if err != nil {
				return fmt.Errorf("invalid port %q: %w", answer, err)
			}
			cfg.AppPort = port
		}
	}

	return nil
}

func defaultKeyPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return homeDir + "/.ssh/id_rsa"
}
