package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/olgasafonova/confluence-spec-mcp-server/internal/confluence"
	apierrors "github.com/olgasafonova/confluence-spec-mcp-server/internal/errors"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/pipeline"
)

// --------------------------------------------------------------------------
// token
// --------------------------------------------------------------------------

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the Confluence API token",
	}

	set := &cobra.Command{
		Use:   "set",
		Short: "Seal and store an API token (read from stdin unless --token is given)",
		Args:  cobra.NoArgs,
		RunE:  runTokenSet,
	}
	set.Flags().String("token", "", "API token; prefer stdin so it stays out of shell history")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored API token",
		Args:  cobra.NoArgs,
		RunE:  runTokenClear,
	}

	cmd.AddCommand(set, clearCmd)
	return cmd
}

func runTokenSet(cmd *cobra.Command, _ []string) error {
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		var err error
		if token, err = readLine(cmd); err != nil {
			return err
		}
	}
	if token == "" {
		return errors.New("no token given")
	}

	svc, cleanup, err := openService(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	conn, err := svc.SetToken(cmd.Context(), token)
	if err != nil {
		return err
	}
	return writeOutput(cmd, conn, func(w io.Writer) {
		fmt.Fprintf(w, "%s✓%s Token stored. Run %sspecctl connection validate%s to check it.\n", green, reset, bold, reset)
	})
}

func runTokenClear(cmd *cobra.Command, _ []string) error {
	svc, cleanup, err := openService(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	conn, err := svc.ClearToken(cmd.Context())
	if err != nil {
		return err
	}
	return writeOutput(cmd, conn, func(w io.Writer) {
		fmt.Fprintf(w, "%s✓%s Token removed.\n", green, reset)
	})
}

// --------------------------------------------------------------------------
// connection
// --------------------------------------------------------------------------

func connectionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connection",
		Short: "Show, change or validate the Confluence connection",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the saved connection",
		Args:  cobra.NoArgs,
		RunE:  runConnectionShow,
	}

	set := &cobra.Command{
		Use:   "set",
		Short: "Set the site URL and account email",
		Args:  cobra.NoArgs,
		RunE:  runConnectionSet,
	}
	set.Flags().String("url", "", "Confluence base URL, e.g. https://acme.atlassian.net/wiki")
	set.Flags().String("email", "", "Account email")
	set.Flags().Bool("enabled", true, "Enable the connection")
	_ = set.MarkFlagRequired("url")
	_ = set.MarkFlagRequired("email")

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Check the stored credentials against Confluence",
		Args:  cobra.NoArgs,
		RunE:  runConnectionValidate,
	}

	cmd.AddCommand(show, set, validate)
	return cmd
}

func runConnectionShow(cmd *cobra.Command, _ []string) error {
	svc, cleanup, err := openService(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	conn := svc.Connection()
	return writeOutput(cmd, conn, func(w io.Writer) { printConnection(w, conn) })
}

func runConnectionSet(cmd *cobra.Command, _ []string) error {
	url, _ := cmd.Flags().GetString("url")
	email, _ := cmd.Flags().GetString("email")
	enabled, _ := cmd.Flags().GetBool("enabled")

	svc, cleanup, err := openService(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	conn, err := svc.Configure(pipeline.ConnectionSettings{BaseURL: url, Email: email, Enabled: enabled})
	if err != nil {
		return err
	}
	return writeOutput(cmd, conn, func(w io.Writer) { printConnection(w, conn) })
}

type validateOutput struct {
	Connection confluence.ConnectionConfig `json:"connection"`
	User       *confluence.User            `json:"user,omitempty"`
	Error      string                      `json:"error,omitempty"`
}

func runConnectionValidate(cmd *cobra.Command, _ []string) error {
	svc, cleanup, err := openService(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	conn, user, verr := svc.ValidateConnection(cmd.Context())
	out := validateOutput{Connection: conn, User: user}
	if verr != nil {
		out.Error = userMessage(verr)
	}
	if err := writeOutput(cmd, out, func(w io.Writer) {
		printConnection(w, conn)
		if user != nil {
			fmt.Fprintf(w, "  Account:    %s\n", user.DisplayName)
		}
		if verr != nil {
			fmt.Fprintf(w, "%s✗%s %s\n", red, reset, out.Error)
			for _, hint := range apierrors.RecoverySuggestions(verr) {
				fmt.Fprintf(w, "  %s→%s %s\n", yellow, reset, hint)
			}
		}
	}); err != nil {
		return err
	}
	return verr
}

func printConnection(w io.Writer, conn confluence.ConnectionConfig) {
	fmt.Fprintf(w, "%sConfluence connection%s\n", bold, reset)
	fmt.Fprintf(w, "  URL:        %s\n", conn.BaseURL)
	fmt.Fprintf(w, "  Email:      %s\n", conn.Email)
	fmt.Fprintf(w, "  Enabled:    %s\n", check(conn.Enabled))
	fmt.Fprintf(w, "  Token:      %s\n", check(conn.TokenRef != ""))
	fmt.Fprintf(w, "  Complete:   %s\n", check(conn.IsConfigurationComplete()))
	fmt.Fprintf(w, "  Valid:      %s\n", check(conn.IsValid))
	if conn.LastValidated != nil {
		fmt.Fprintf(w, "  Validated:  %s\n", conn.LastValidated.Format(time.RFC3339))
	}
}
