// Package console renders a form session in the terminal.
package console

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/solatis/dualcheck/internal/session"
	"github.com/solatis/dualcheck/internal/types"
)

// Form is the part of session.Session the console drives.
type Form interface {
	Edit(ctx context.Context, f types.Field, v types.FieldValue) error
	Blur(ctx context.Context, f types.Field) error
	Submit(ctx context.Context) (session.SubmitTicket, error)
	Rotate(ctx context.Context) error
	Reset(ctx context.Context) error
	Snapshot(ctx context.Context) (session.View, error)
}

// Menu entries.
const (
	ActionFillAll = "Fill in all fields"
	ActionEdit    = "Edit a field"
	ActionSubmit  = "Submit"
	ActionRotate  = "Rotate rules now"
	ActionReset   = "Reset"
	ActionQuit    = "Quit"
)

const (
	msgAccepted   = "Submission accepted"
	msgFixFields  = "Please fix the highlighted fields."
	msgSubmitting = "Submitting..."
)

var labels = map[types.Field]string{
	types.FieldEmail:    "Email",
	types.FieldAmount:   "Amount",
	types.FieldUsername: "Username",
	types.FieldAgree:    "I agree to the terms",
}

// Console drives a Form through a PromptDriver.
type Console struct {
	driver PromptDriver

	mu      sync.Mutex
	notices []string
}

// New returns a console using driver.
func New(driver PromptDriver) *Console {
	return &Console{driver: driver}
}

// Notify queues rotation notices for display. Pass it to session.WithNotify;
// it never blocks.
func (c *Console) Notify(e session.Event) {
	if e.Kind != session.EventRotated {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notices = append(c.notices, fmt.Sprintf("Validation rules just changed to Ruleset %s", e.View.RuleSet.ID))
}

// Run shows the form and menu until the user quits, aborts or ctx ends.
func (c *Console) Run(ctx context.Context, form Form) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := c.flushNotices(ctx); err != nil {
			return quietAbort(err)
		}

		v, err := form.Snapshot(ctx)
		if err != nil {
			return quietAbort(err)
		}
		if err := c.render(ctx, v); err != nil {
			return quietAbort(err)
		}

		action, err := c.choose(ctx, v)
		if err != nil {
			return quietAbort(err)
		}
		if action == ActionQuit {
			return nil
		}
		if err := c.do(ctx, form, action); err != nil {
			return quietAbort(err)
		}
	}
}

func (c *Console) choose(ctx context.Context, v session.View) (string, error) {
	options := []string{ActionFillAll, ActionEdit, ActionSubmit, ActionRotate, ActionReset, ActionQuit}
	if v.Submitted {
		options = []string{ActionReset, ActionQuit}
	}
	i, err := c.driver.Select(ctx, SelectConfig{Message: "What next?", Options: options})
	if err != nil {
		return "", err
	}
	if i < 0 || i >= len(options) {
		return ActionQuit, nil
	}
	return options[i], nil
}

func (c *Console) do(ctx context.Context, form Form, action string) error {
	switch action {
	case ActionFillAll:
		v, err := form.Snapshot(ctx)
		if err != nil {
			return err
		}
		for _, f := range types.Fields {
			if err := c.promptField(ctx, form, f, v.Record.Value(f)); err != nil {
				return err
			}
		}
	case ActionEdit:
		names := make([]string, len(types.Fields))
		for i, f := range types.Fields {
			names[i] = labels[f]
		}
		i, err := c.driver.Select(ctx, SelectConfig{Message: "Which field?", Options: names})
		if err != nil {
			return err
		}
		if i < 0 || i >= len(types.Fields) {
			return nil
		}
		v, err := form.Snapshot(ctx)
		if err != nil {
			return err
		}
		f := types.Fields[i]
		return c.promptField(ctx, form, f, v.Record.Value(f))
	case ActionSubmit:
		return c.submit(ctx, form)
	case ActionRotate:
		return form.Rotate(ctx)
	case ActionReset:
		return form.Reset(ctx)
	}
	return nil
}

// promptField edits then blurs f and reports its message.
func (c *Console) promptField(ctx context.Context, form Form, f types.Field, current types.FieldValue) error {
	var v types.FieldValue
	if f == types.FieldAgree {
		ok, err := c.driver.Confirm(ctx, ConfirmConfig{Message: labels[f], Default: current.Flag})
		if err != nil {
			return err
		}
		v = types.Flag(ok)
	} else {
		s, err := c.driver.Input(ctx, InputConfig{Message: inputMessage(f, current.Text)})
		if err != nil {
			return err
		}
		v = types.Text(s)
	}

	if err := form.Edit(ctx, f, v); err != nil {
		return c.soft(ctx, err)
	}
	if err := form.Blur(ctx, f); err != nil {
		return c.soft(ctx, err)
	}

	view, err := form.Snapshot(ctx)
	if err != nil {
		return err
	}
	if fv := view.Field(f); fv.Message() != "" {
		return c.driver.Info(ctx, fmt.Sprintf("  %s [%s]", fv.Message(), fv.Source()))
	}
	return nil
}

// inputMessage shows the current value in the prompt. It is not offered as a
// default so an empty answer clears the field.
func inputMessage(f types.Field, current string) string {
	if current == "" {
		return labels[f]
	}
	return fmt.Sprintf("%s (now %q)", labels[f], current)
}

func (c *Console) submit(ctx context.Context, form Form) error {
	ticket, err := form.Submit(ctx)
	if err != nil {
		return c.soft(ctx, err)
	}
	if err := c.driver.Info(ctx, msgSubmitting); err != nil {
		return err
	}

	var res session.SubmitResult
	select {
	case res = <-ticket:
	case <-ctx.Done():
		return ctx.Err()
	}
	if !res.Sent {
		return c.driver.Info(ctx, msgFixFields)
	}
	return nil
}

// soft reports session state errors to the user instead of ending the run.
func (c *Console) soft(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, types.ErrSubmitted), errors.Is(err, types.ErrSubmissionInFlight):
		return c.driver.Info(ctx, "! "+err.Error())
	default:
		return err
	}
}

func (c *Console) flushNotices(ctx context.Context) error {
	c.mu.Lock()
	notices := c.notices
	c.notices = nil
	c.mu.Unlock()

	for _, n := range notices {
		if err := c.driver.Info(ctx, "* "+n); err != nil {
			return err
		}
	}
	return nil
}

func (c *Console) render(ctx context.Context, v session.View) error {
	return c.driver.Info(ctx, Render(v, time.Now()))
}

// Render formats v as text. now is used for the rotation countdown.
func Render(v session.View, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", v.RuleSet.Label)
	if v.RuleSet.Description != "" {
		fmt.Fprintf(&b, "  %s\n", v.RuleSet.Description)
	}
	if !v.NextRotation.IsZero() {
		left := v.NextRotation.Sub(now).Round(time.Second)
		if left < 0 {
			left = 0
		}
		fmt.Fprintf(&b, "  Next rotation in %s\n", left)
	}

	if v.Submitted {
		fmt.Fprintf(&b, "\n%s\n", msgAccepted)
		return b.String()
	}

	b.WriteString("\n")
	for _, f := range types.Fields {
		fv := v.Field(f)
		value := v.Record.Value(f).Text
		if f == types.FieldAgree {
			value = "no"
			if v.Record.Agree {
				value = "yes"
			}
		}
		fmt.Fprintf(&b, "  %-20s %s\n", labels[f], value)
		if msg := fv.Message(); msg != "" {
			fmt.Fprintf(&b, "  %-20s ^ %s [%s]\n", "", msg, fv.Source())
		}
	}
	if v.InFlight {
		fmt.Fprintf(&b, "\n%s\n", msgSubmitting)
	}
	if v.Banner != "" {
		fmt.Fprintf(&b, "\n! %s\n", v.Banner)
	}
	return b.String()
}

func quietAbort(err error) error {
	if errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled) || errors.Is(err, types.ErrSessionClosed) {
		return nil
	}
	return err
}
