package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/agent-penny/penny"
	"github.com/agent-penny/penny/core"
	"github.com/agent-penny/penny/session"
)

// runREPL reads messages from in and prints the conversation to out until
// EOF, "exit" or cancellation. Turn failures are printed and the loop
// continues; only input errors and cancellation end it.
func runREPL(ctx context.Context, p *penny.Penny, sess *session.Session, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "penny %s. Type a message, or \"exit\" to leave.\n", penny.Version)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, "you> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		if ctx.Err() != nil {
			break
		}

		if err := runTurn(ctx, p, sess, line, out); err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	fmt.Fprintln(out, "bye")
	return nil
}

// runTurn streams one turn, printing tool activity as it happens.
func runTurn(ctx context.Context, p *penny.Penny, sess *session.Session, message string, out io.Writer) error {
	_, events, errs, err := p.ChatStream(ctx, sess, message)
	if err != nil {
		return err
	}
	for ev := range events {
		printEvent(out, ev)
	}
	return <-errs
}

func printEvent(out io.Writer, ev core.Event) {
	if ev.Author == "user" || ev.ErrorCode != nil {
		return
	}

	calls := ev.GetFunctionCalls()
	if ev.Content != nil {
		if text := strings.TrimSpace(ev.Content.Text()); text != "" {
			fmt.Fprintf(out, "%s> %s\n", ev.Author, text)
		}
	}
	for _, fc := range calls {
		fmt.Fprintf(out, "  [tool] %s\n", fc.Name)
	}
	for _, fr := range ev.GetFunctionResponses() {
		if fr.Error != "" {
			fmt.Fprintf(out, "  [tool] %s failed: %s\n", fr.Name, fr.Error)
		}
	}
}
