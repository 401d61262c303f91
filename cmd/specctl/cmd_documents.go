package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/olgasafonova/confluence-spec-mcp-server/internal/pipeline"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/publish"
)

// --------------------------------------------------------------------------
// extract
// --------------------------------------------------------------------------

func extractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract [file]",
		Short: "Extract a clean document from saved model output (stdin when no file)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExtract,
	}
	cmd.Flags().String("format", "", "markdown or html (defaults to the configured format)")
	return cmd
}

func runExtract(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	}
	raw, err := readInput(cmd, path)
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")

	svc, cleanup, err := openService(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := svc.ExtractContent(cmd.Context(), raw, format)
	if err != nil {
		return err
	}
	return writeOutput(cmd, res, func(w io.Writer) {
		fmt.Fprintln(w, res.Document.Content)
		if len(res.Attempts) > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "%srecovered by %s after %d failed attempts%s\n",
				yellow, res.Strategy, len(res.Attempts), reset)
		}
	})
}

// --------------------------------------------------------------------------
// resolve / expand
// --------------------------------------------------------------------------

func resolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <url>",
		Short: "Resolve a Confluence link to its page content",
		Args:  cobra.ExactArgs(1),
		RunE:  runResolve,
	}
	cmd.Flags().Bool("refresh", false, "Ignore any cached copy of the link")
	return cmd
}

func runResolve(cmd *cobra.Command, args []string) error {
	svc, cleanup, err := openService(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	resolve := svc.ResolveLink
	if refresh, _ := cmd.Flags().GetBool("refresh"); refresh {
		resolve = svc.RefreshLink
	}
	link, err := resolve(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if err := writeOutput(cmd, link, func(w io.Writer) {
		if !link.IsValid {
			fmt.Fprintf(w, "%s✗%s %s: %s\n", red, reset, link.OriginalURL, link.ErrorMessage)
			return
		}
		fmt.Fprintf(w, "%sPage %s%s\n\n%s\n", bold, link.PageID, reset, link.ExtractedContent)
	}); err != nil {
		return err
	}
	if !link.IsValid {
		return errors.New(link.ErrorMessage)
	}
	return nil
}

func expandCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expand [file]",
		Short: "Replace Confluence links in text with page content (stdin when no file)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExpand,
	}
}

func runExpand(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	}
	text, err := readInput(cmd, path)
	if err != nil {
		return err
	}

	svc, cleanup, err := openService(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	exp := svc.ExpandLinks(cmd.Context(), text)
	return writeOutput(cmd, exp, func(w io.Writer) {
		fmt.Fprint(w, exp.Text)
		if !strings.HasSuffix(exp.Text, "\n") {
			fmt.Fprintln(w)
		}
		for _, l := range exp.Links {
			if !l.IsValid {
				fmt.Fprintf(cmd.ErrOrStderr(), "%skept %s: %s%s\n", yellow, l.OriginalURL, l.ErrorMessage, reset)
			}
		}
	})
}

// --------------------------------------------------------------------------
// publish
// --------------------------------------------------------------------------

func publishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish [file]",
		Short: "Create or update a Confluence page from a document (stdin when no file)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runPublish,
	}
	cmd.Flags().String("title", "", "Page title")
	cmd.Flags().String("space", "", "Space key (required for new pages)")
	cmd.Flags().String("parent", "", "Parent page id for new pages")
	cmd.Flags().String("page", "", "Existing page id to update")
	cmd.Flags().String("format", "", "markdown or html (defaults to the configured format)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func runPublish(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	}
	content, err := readInput(cmd, path)
	if err != nil {
		return err
	}

	req := pipeline.PublishRequest{Content: content}
	req.Title, _ = cmd.Flags().GetString("title")
	req.SpaceKey, _ = cmd.Flags().GetString("space")
	req.ParentID, _ = cmd.Flags().GetString("parent")
	req.PageID, _ = cmd.Flags().GetString("page")
	req.Format, _ = cmd.Flags().GetString("format")

	svc, cleanup, err := openService(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	jsonMode, _ := cmd.Flags().GetBool("json")
	onProgress := func(p publish.Progress) {
		if !jsonMode {
			fmt.Fprintf(cmd.ErrOrStderr(), "[%3.0f%%] %s\n", p.Progress*100, p.Message)
		}
	}

	res, perr := svc.PublishPage(cmd.Context(), req, onProgress)
	if err := writeOutput(cmd, res, func(w io.Writer) {
		mark := green + "✓" + reset
		if !res.Success {
			mark = red + "✗" + reset
		}
		fmt.Fprintf(w, "%s %s\n", mark, res.DetailedMessage())
		if res.ChangeSummary != nil {
			fmt.Fprintf(w, "  %s\n", res.ChangeSummary.String())
		}
	}); err != nil {
		return err
	}
	return perr
}
