package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"
)

func init() {
	ingestCmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Upload a document into a session",
		Long:  "Extract, chunk and embed a document and make it the session's active document.",
		Args:  cobra.ExactArgs(1),
		RunE:  runIngest,
	}

	askCmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the session's document",
		Long: `Answer a question using only the session's uploaded document. CSV data lives
in process memory, so pass --file to load it before asking.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runAsk,
	}
	askCmd.Flags().StringP("file", "f", "", "Upload this file before asking")

	rootCmd.AddCommand(ingestCmd, askCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, a, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return goerr.Wrap(err, "failed to read file", goerr.V("path", args[0]))
	}

	out := a.gateway.IngestDocument(ctx, sessionID, data, filepath.Base(args[0]))
	fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", out.Status, out.Message)
	if !out.OK() {
		return out.Err
	}
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")

	ctx, a, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	w := cmd.OutOrStdout()
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return goerr.Wrap(err, "failed to read file", goerr.V("path", file))
		}
		out := a.gateway.IngestDocument(ctx, sessionID, data, filepath.Base(file))
		fmt.Fprintf(w, "[%s] %s\n", out.Status, out.Message)
		if !out.OK() {
			return out.Err
		}
	}

	res := a.gateway.AnswerWithContext(ctx, sessionID, strings.Join(args, " "))
	if !res.OK() {
		fmt.Fprintf(w, "[%s] %s\n", res.Status, res.Message)
		return res.Err
	}
	fmt.Fprintln(w, res.Reply)
	return nil
}
