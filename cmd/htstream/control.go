package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"
)

// Test injection points for the console control loop.
var (
	controlInput       io.Reader = os.Stdin
	controlInteractive           = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }
)

// runControlled supervises a long-running worker goroutine that reports its
// result on workerErr. It blocks until the worker returns, the user quits, or
// the context ends, and returns the worker's error. While blocked it accepts
// simple console commands on stdin: "c" (check) invokes onCheck, "q" (quit)
// cancels the context. SIGINT and SIGTERM also cancel. Unrecognized input is
// ignored. On quit the worker is always waited for, so its final error (or
// context.Canceled) is what comes back.
func runControlled(ctx context.Context, cancel context.CancelFunc, workerErr <-chan error, onCheck func()) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	cmdCh := make(chan string)
	if controlInteractive() {
		fmt.Println(`Enter "c" to check progress or "q" to quit`)
		go func() {
			scanner := bufio.NewScanner(controlInput)
			for scanner.Scan() {
				select {
				case cmdCh <- strings.ToLower(strings.TrimSpace(scanner.Text())):
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for {
		select {
		case err := <-workerErr:
			cancel()
			return err
		case <-ctx.Done():
			return <-workerErr
		case <-sigCh:
			cancel()
			return <-workerErr
		case cmd := <-cmdCh:
			switch cmd {
			case "q", "quit":
				cancel()
				return <-workerErr
			case "c", "check":
				if onCheck != nil {
					onCheck()
				}
			}
		}
	}
}

// plural is a small helper for "N file(s)" style messages.
func plural(n int64) string {
	if n == 1 {
		return ""
	}
	return "s"
}
