package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/olgasafonova/confluence-spec-mcp-server/internal/config"
	apierrors "github.com/olgasafonova/confluence-spec-mcp-server/internal/errors"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/logger"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/pipeline"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/storage"
)

// ANSI escape codes for colored output.
const (
	bold   = "\033[1m"
	green  = "\033[32m"
	yellow = "\033[33m"
	red    = "\033[31m"
	reset  = "\033[0m"
)

// openService loads the configuration named by --config and wires the
// pipeline. The returned cleanup closes the database.
func openService(cmd *cobra.Command) (*pipeline.Service, func(), error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	// Keep the terminal quiet unless something goes wrong.
	level := max(logger.ParseLogLevel(cfg.LogLevel), slog.LevelWarn)
	log := logger.New(cmd.ErrOrStderr(), logger.ParseLogFormat(cfg.LogFormat), level)

	svc, db, err := pipeline.Open(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return svc, func() { _ = db.Close() }, nil
}

// openDatabase opens only the database named by the configuration, for
// commands that read local state without contacting Confluence.
func openDatabase(cmd *cobra.Command) (*storage.DB, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return storage.Open(cfg.DatabaseFile)
}

// writeOutput renders data as JSON (if --json flag is set) or invokes
// the human-readable callback.
func writeOutput(cmd *cobra.Command, data any, humanFn func(w io.Writer)) error {
	jsonMode, _ := cmd.Flags().GetBool("json")
	if jsonMode {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	humanFn(cmd.OutOrStdout())
	return nil
}

// readInput returns the named file, or stdin for "" and "-".
func readInput(cmd *cobra.Command, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(data), nil
}

// readLine reads the first line of stdin, for secrets that should not land
// in shell history.
func readLine(cmd *cobra.Command) (string, error) {
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func check(ok bool) string {
	if ok {
		return green + "yes" + reset
	}
	return red + "no" + reset
}

// userMessage is the message without kind and technical details.
func userMessage(err error) string {
	if e, ok := apierrors.As(err); ok {
		return e.Message
	}
	return err.Error()
}
