package auth

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// ErrCodeUnavailable is returned when no one-time code can be obtained
// within the supplier's budget. Fatal for the task.
var ErrCodeUnavailable = errors.New("one-time code unavailable")

type Credentials struct {
	Email    string
	Password string
}

// CredentialSupplier provides login credentials and, when the target issues
// a challenge, a one-time code. OneTimeCode is a suspension point: the
// interactive implementation blocks on operator input, the service
// implementation waits on a pre-registered inbox with a deadline.
type CredentialSupplier interface {
	Credentials(ctx context.Context) (Credentials, error)
	OneTimeCode(ctx context.Context) (string, error)
}

// ConsoleSupplier prompts an operator on the terminal. Used for attended
// runs only; it has no timeout by design.
type ConsoleSupplier struct {
	In  io.Reader
	Out io.Writer

	reader *bufio.Reader
}

func NewConsoleSupplier(in io.Reader, out io.Writer) *ConsoleSupplier {
	return &ConsoleSupplier{In: in, Out: out, reader: bufio.NewReader(in)}
}

func (c *ConsoleSupplier) Credentials(ctx context.Context) (Credentials, error) {
	email, err := c.prompt("Enter account email: ")
	if err != nil {
		return Credentials{}, err
	}
	password, err := c.prompt("Enter account password: ")
	if err != nil {
		return Credentials{}, err
	}
	if email == "" || password == "" {
		return Credentials{}, errors.New("credentials are required")
	}
	return Credentials{Email: email, Password: password}, nil
}

func (c *ConsoleSupplier) OneTimeCode(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= 3; attempt++ {
		code, err := c.prompt("Enter the code you received via text: ")
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrCodeUnavailable, err)
		}
		if code != "" {
			return code, nil
		}
		fmt.Fprintf(c.Out, "Code cannot be empty (attempt %d/3)\n", attempt)
	}
	return "", fmt.Errorf("%w: no code entered after 3 attempts", ErrCodeUnavailable)
}

func (c *ConsoleSupplier) prompt(label string) (string, error) {
	fmt.Fprint(c.Out, label)
	line, err := c.reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// ConsoleCodeSupplier carries credentials that arrived with a request but
// still prompts the terminal for one-time codes. It serves interactive
// deployments where the service runs in a terminal an operator watches.
type ConsoleCodeSupplier struct {
	creds   Credentials
	console *ConsoleSupplier
}

func NewConsoleCodeSupplier(creds Credentials, in io.Reader, out io.Writer) *ConsoleCodeSupplier {
	return &ConsoleCodeSupplier{creds: creds, console: NewConsoleSupplier(in, out)}
}

func (s *ConsoleCodeSupplier) Credentials(ctx context.Context) (Credentials, error) {
	if s.creds.Email == "" || s.creds.Password == "" {
		return Credentials{}, errors.New("credentials are required")
	}
	return s.creds, nil
}

func (s *ConsoleCodeSupplier) OneTimeCode(ctx context.Context) (string, error) {
	return s.console.OneTimeCode(ctx)
}

// InboxSupplier is the unattended deployment: credentials arrive with the
// request and the one-time code must be registered out-of-band (by an SMS
// webhook or operator endpoint) before the wait budget runs out.
type InboxSupplier struct {
	creds Credentials
	wait  time.Duration
	inbox chan string
}

func NewInboxSupplier(creds Credentials, wait time.Duration) *InboxSupplier {
	return &InboxSupplier{
		creds: creds,
		wait:  wait,
		inbox: make(chan string, 1),
	}
}

// RegisterCode delivers a code to a waiting login. A second code before the
// first is consumed replaces nothing; the channel keeps the earliest.
func (s *InboxSupplier) RegisterCode(code string) {
	select {
	case s.inbox <- code:
	default:
	}
}

func (s *InboxSupplier) Credentials(ctx context.Context) (Credentials, error) {
	if s.creds.Email == "" || s.creds.Password == "" {
		return Credentials{}, errors.New("credentials are required")
	}
	return s.creds, nil
}

func (s *InboxSupplier) OneTimeCode(ctx context.Context) (string, error) {
	timer := time.NewTimer(s.wait)
	defer timer.Stop()

	select {
	case code := <-s.inbox:
		return code, nil
	case <-timer.C:
		return "", fmt.Errorf("%w: no code registered within %s", ErrCodeUnavailable, s.wait)
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", ErrCodeUnavailable, ctx.Err())
	}
}
