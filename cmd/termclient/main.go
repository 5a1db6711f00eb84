// termclient connects the local terminal to a remote shell served by the
// dashboard API.
//
// Local commands start with Ctrl-] followed by:
//
//	e  Esc      t  Tab      c  Ctrl (one-shot)      /  slash
//	q  quit     Ctrl-]  send a literal Ctrl-]
//
// The remote working directory is shown in the window title.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/workspace-dashboard/backend/internal/client"
	"github.com/workspace-dashboard/backend/internal/logging"
)

const defaultURL = "ws://127.0.0.1:3100/api/terminal/ws"

// exitError carries the remote shell's exit code.
type exitError int

func (e exitError) Error() string  { return fmt.Sprintf("terminal exited with code %d", int(e)) }
func (e exitError) ExitCode() int { return int(e) }

func main() {
	if err := run(); err != nil {
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		url      string
		origin   string
		logFile  string
		logLevel string
		ping     bool
		timeout  time.Duration
	)

	flagSet := pflag.NewFlagSet("termclient", pflag.ContinueOnError)
	flagSet.StringVarP(&url, "url", "u", defaultURL, "terminal WebSocket endpoint")
	flagSet.StringVar(&origin, "origin", "", "Origin header to send (default: none)")
	flagSet.StringVar(&logFile, "log-file", "", "write JSON logs to this file")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level")
	flagSet.BoolVar(&ping, "ping", false, "check that a session can be opened, then exit")
	flagSet.DurationVar(&timeout, "timeout", 10*time.Second, "connect timeout")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	// The terminal is in raw mode, so logs never go to stderr.
	logger := logging.NewNop()
	if logFile != "" {
		var err error
		logger, err = logging.New(logging.Config{Level: logLevel, OutputPaths: []string{logFile}})
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		defer logger.Sync()
	}

	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	dialCtx, cancelDial := context.WithTimeout(ctx, timeout)
	defer cancelDial()

	stdoutFd := int(os.Stdout.Fd())
	surface := &stdoutSurface{fd: stdoutFd, out: os.Stdout}

	var exitCode *int
	c, err := client.Dial(dialCtx, url, client.Options{
		Surface: surface,
		Header:  header,
		Logger:  logger,
		OnCwd:   surface.setTitle,
		OnExit:  func(code int) { exitCode = &code },
	})
	if err != nil {
		return err
	}
	defer c.Close()

	if ping {
		return pingOnce(ctx, c, timeout)
	}

	stdinFd := int(os.Stdin.Fd())
	if term.IsTerminal(stdinFd) {
		oldState, err := term.MakeRaw(stdinFd)
		if err != nil {
			return fmt.Errorf("set terminal raw mode: %w", err)
		}
		defer term.Restore(stdinFd, oldState)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go forwardStdin(ctx, cancel, c, logger)

	err = c.Run(ctx, nil, watchResize(ctx))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return err
	}
	if exitCode != nil && *exitCode != 0 {
		return exitError(*exitCode)
	}
	return nil
}

// forwardStdin reads the local terminal, handling the Ctrl-] commands.
func forwardStdin(ctx context.Context, quit context.CancelFunc, c *client.Client, logger *zap.Logger) {
	var filter keyFilter
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		for _, ev := range filter.Filter(buf[:n]) {
			var sendErr error
			switch {
			case ev.quit:
				quit()
				return
			case ev.press:
				sendErr = c.Press(ev.key)
			default:
				sendErr = c.Type(ev.data)
			}
			if errors.Is(sendErr, client.ErrExited) || errors.Is(sendErr, client.ErrClosed) {
				return
			}
			if sendErr != nil {
				logger.Debug("input not sent", zap.Error(sendErr))
			}
		}
		if err != nil || ctx.Err() != nil {
			return
		}
	}
}

func pingOnce(ctx context.Context, c *client.Client, timeout time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.Run(ctx, nil, nil)

	pingCtx, cancelPing := context.WithTimeout(ctx, timeout)
	defer cancelPing()
	start := time.Now()
	if err := c.Ping(pingCtx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	fmt.Printf("pong in %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage: termclient [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Connect the local terminal to a remote shell.\n")
	fmt.Fprintf(os.Stderr, "Ctrl-] then e/t/c// sends Esc/Tab/Ctrl/slash; Ctrl-] q quits.\n\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	flagSet.PrintDefaults()
}
