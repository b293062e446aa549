package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/max-solo23/deeptrace/internal/cancellation"
	"github.com/max-solo23/deeptrace/internal/export"
	"github.com/max-solo23/deeptrace/internal/model"
	"github.com/max-solo23/deeptrace/internal/pipeline"
)

var (
	researchMode    string
	researchAnswers []string
	researchClarify bool
	researchNoInput bool
	researchFormats []string
	researchQuiet   bool
)

var researchCmd = &cobra.Command{
	Use:          "research <query>",
	Short:        "Research a question and print the report",
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		query := strings.Join(args, " ")

		modeName := researchMode
		if modeName == "" {
			modeName = cfg.Research.DefaultMode
		}
		mode, err := model.ParseMode(modeName)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("clarify") {
			cfg.Research.Clarify = researchClarify
		}
		if len(researchFormats) > 0 {
			cfg.Export.Formats = researchFormats
		}

		env, err := initResearch(ctx, "research")
		if err != nil {
			return err
		}
		defer env.Close()

		events := make(chan model.Event, max(cfg.Research.EventBuffer, 1))
		stderr := cmd.ErrOrStderr()
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range events {
				fmt.Fprintln(stderr, renderEvent(ev))
			}
		}()

		opts := []pipeline.Option{pipeline.WithEvents(events)}
		if !researchNoInput {
			opts = append(opts, pipeline.WithClarificationHandler(promptAnswers(cmd.InOrStdin(), stderr)))
		}
		p := env.Pipeline(opts...)

		ctl := cancellation.New()
		stopOnInterrupt(ctx, ctl)

		fmt.Fprintln(stderr, titleStyle.Render(fmt.Sprintf("Researching (%s): %s", mode, query)))
		out, err := p.Run(ctx, pipeline.Request{Query: query, Mode: mode, Answers: researchAnswers}, ctl)
		close(events)
		wg.Wait()
		if err != nil {
			return err
		}

		fmt.Fprintln(stderr, renderOutcome(out))
		if out.Report != nil && !researchQuiet {
			fmt.Fprintln(cmd.OutOrStdout(), reportMarkdown(out.Report, out.Sources))
		}

		if out.State == pipeline.StateError && out.Failure != nil {
			return out.Failure
		}
		return nil
	},
}

// reportMarkdown prefers the writer's own markdown and falls back to the
// rendered sections.
func reportMarkdown(r *model.Report, sources []model.Source) string {
	if md := strings.TrimSpace(r.MarkdownReport); md != "" {
		return md
	}
	return export.RenderMarkdown(r, sources)
}

// stopOnInterrupt turns the first SIGINT or SIGTERM into a cooperative stop.
// The run ends at its next checkpoint and nothing is saved.
func stopOnInterrupt(ctx context.Context, ctl *cancellation.Controller) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sig)
		select {
		case s := <-sig:
			zap.L().Info("stop requested", zap.String("signal", s.String()))
			ctl.Stop("interrupted")
		case <-ctl.Done():
		case <-ctx.Done():
		}
	}()
}

// promptAnswers returns a ClarificationHandler that asks each question on w
// and reads one answer per line from r. Answers stay positionally aligned
// with questions; a blank line leaves that question unanswered.
func promptAnswers(r io.Reader, w io.Writer) pipeline.ClarificationHandler {
	scanner := bufio.NewScanner(r)
	return func(ctx context.Context, questions []string) ([]string, error) {
		fmt.Fprint(w, renderQuestions(questions))
		var answers []string
		for i := range questions {
			if err := ctx.Err(); err != nil {
				return answers, err
			}
			fmt.Fprintf(w, "  answer %d> ", i+1)
			if !scanner.Scan() {
				fmt.Fprintln(w)
				break
			}
			answers = append(answers, strings.TrimSpace(scanner.Text()))
		}
		return answers, scanner.Err()
	}
}

func init() {
	researchCmd.Flags().StringVar(&researchMode, "mode", "", "research mode: quick or deep (default from config)")
	researchCmd.Flags().StringArrayVar(&researchAnswers, "answer", nil, "answer to a clarifying question (repeatable)")
	researchCmd.Flags().BoolVar(&researchClarify, "clarify", false, "ask clarifying questions for vague queries")
	researchCmd.Flags().BoolVar(&researchNoInput, "no-input", false, "never prompt for clarifying answers")
	researchCmd.Flags().StringSliceVar(&researchFormats, "format", nil, "export formats: md, json, yaml, xlsx (default from config)")
	researchCmd.Flags().BoolVarP(&researchQuiet, "quiet", "q", false, "do not print the report markdown")
	rootCmd.AddCommand(researchCmd)
}
