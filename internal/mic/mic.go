// Package mic asks the user for microphone access before a call starts.
package mic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	input "github.com/tcnksm/go-input"
)

// ErrDenied is returned when microphone access is refused.
var ErrDenied = errors.New("microphone permission denied")

// Permission requests microphone access. A nil error means granted.
type Permission interface {
	Request(ctx context.Context) error
}

// PermissionFunc adapts a function to Permission.
type PermissionFunc func(ctx context.Context) error

// Request calls f(ctx).
func (f PermissionFunc) Request(ctx context.Context) error {
	return f(ctx)
}

// Static answers every request the same way.
type Static bool

// Request grants or denies without asking.
func (s Static) Request(context.Context) error {
	if !s {
		return ErrDenied
	}
	return nil
}

// Prompt asks on a terminal.
type Prompt struct {
	UI *input.UI
}

// NewPrompt builds a prompt reading from r and writing to w.
func NewPrompt(r io.Reader, w io.Writer) *Prompt {
	return &Prompt{UI: &input.UI{Reader: r, Writer: w}}
}

// Request asks a yes/no question; anything but yes denies.
func (p *Prompt) Request(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	answer, err := p.UI.Ask("Allow microphone access for voice chat? [y/n]", &input.Options{
		Default:  "n",
		Required: true,
		Loop:     true,
		ValidateFunc: func(answer string) error {
			switch strings.ToLower(answer) {
			case "y", "yes", "n", "no":
				return nil
			default:
				return fmt.Errorf("please enter 'y' or 'n'")
			}
		},
	})
	if err != nil {
		return fmt.Errorf("ask microphone permission: %w", err)
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return nil
	default:
		return ErrDenied
	}
}

// Request is a pending permission question handed to an interactive UI.
type Request struct {
	reply chan bool
}

// Answer resolves the request. Only the first answer counts.
func (r Request) Answer(granted bool) {
	select {
	case r.reply <- granted:
	default:
	}
}

// Broker forwards permission requests to a UI over a channel,
// the UI answers through Request.Answer.
type Broker struct {
	requests chan Request
}

// NewBroker creates a broker with an unbuffered request channel.
func NewBroker() *Broker {
	return &Broker{requests: make(chan Request)}
}

// Requests is consumed by the UI.
func (b *Broker) Requests() <-chan Request {
	return b.requests
}

// Request blocks until the UI answers or ctx ends.
func (b *Broker) Request(ctx context.Context) error {
	req := Request{reply: make(chan bool, 1)}
	select {
	case b.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case granted := <-req.reply:
		if !granted {
			return ErrDenied
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var (
	_ Permission = Static(true)
	_ Permission = (*Prompt)(nil)
	_ Permission = (*Broker)(nil)
)
