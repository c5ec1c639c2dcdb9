package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/chat-gateway/engine"
	"github.com/becomeliminal/chat-gateway/llm"
	"github.com/becomeliminal/chat-gateway/logging"
)

func init() {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send a message, or start an interactive chat",
		Long: `Send a single message and print the streamed reply. Without arguments,
read messages from stdin until EOF. Interactive commands:

  /mode text|local|rag   switch mode
  /session <id>          switch session
  /upload <path>         upload a document or CSV file into the session`,
		RunE: runChat,
	}
	cmd.Flags().StringP("mode", "m", string(engine.ModeLocal), "Mode: text, local or rag")
	cmd.Flags().Duration("timeout", 0, "Generation timeout (default from config)")
	rootCmd.AddCommand(cmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	modeFlag, _ := cmd.Flags().GetString("mode")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	ctx, a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	r := &repl{gateway: a.gateway, out: out, session: sessionID, mode: engine.Mode(modeFlag), timeout: timeout}

	if len(args) > 0 {
		return r.turn(ctx, strings.Join(args, " "))
	}

	return r.run(ctx, cmd.InOrStdin())
}

type repl struct {
	gateway *engine.Gateway
	out     io.Writer
	session string
	mode    engine.Mode
	timeout time.Duration
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(r.out, "[%s/%s] > ", r.session, r.mode)
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		if strings.HasPrefix(line, "/") {
			r.command(ctx, line)
			continue
		}
		if err := r.turn(ctx, line); err != nil {
			logging.From(ctx).Warn("turn failed", "error", err)
		}
	}
}

func (r *repl) command(ctx context.Context, line string) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/mode":
		r.mode = engine.Mode(arg)
	case "/session":
		if arg != "" {
			r.session = arg
		}
	case "/upload":
		data, err := os.ReadFile(arg)
		if err != nil {
			fmt.Fprintf(r.out, "cannot read %s: %v\n", arg, err)
			return
		}
		out := r.gateway.IngestDocument(ctx, r.session, data, filepath.Base(arg))
		fmt.Fprintf(r.out, "[%s] %s\n", out.Status, out.Message)
	default:
		fmt.Fprintf(r.out, "unknown command %s\n", name)
	}
}

func (r *repl) turn(ctx context.Context, message string) error {
	res := r.gateway.HandleTurn(ctx, engine.TurnRequest{
		SessionID: r.session,
		Message:   message,
		Mode:      r.mode,
		Timeout:   r.timeout,
	}, printer(r.out))

	if !res.OK() {
		fmt.Fprintf(r.out, "\n[%s] %s\n", res.Status, res.Message)
		return res.Err
	}
	return nil
}

// printer writes streamed fragments and ends the reply with a newline.
func printer(w io.Writer) llm.StreamFunc {
	return func(chunk string, done bool) {
		if done {
			fmt.Fprintln(w)
			return
		}
		fmt.Fprint(w, chunk)
	}
}
