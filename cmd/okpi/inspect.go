package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/normanking/okpi/internal/journal"
	"github.com/normanking/okpi/internal/router"
	"github.com/normanking/okpi/internal/skills"
	"github.com/normanking/okpi/pkg/skill"
)

func matchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "match [utterance...]",
		Short: "Show which skill an utterance would be dispatched to",
		Long:  "Runs the matcher against the built-in skills without invoking anything.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := router.New(router.Config{Sink: skill.SinkFunc(func(string) {})})
			if err != nil {
				return err
			}
			for _, s := range skills.Builtin() {
				if err := r.Register(s); err != nil {
					return err
				}
			}
			printMatch(cmd.OutOrStdout(), r, strings.Join(args, " "))
			return nil
		},
	}
}

func printMatch(w io.Writer, r *router.Router, text string) {
	c, ok := r.Match(text)
	if !ok {
		fmt.Fprintln(w, dimStyle.Render("no match, okpi would reply:"))
		fmt.Fprintf(w, "  %s\n", router.Fallback(text))
		return
	}

	fmt.Fprintln(w, successStyle.Render("✓ "+skill.NameOf(c.Skill)))
	fmt.Fprintf(w, "  Template: %s\n", c.Intent.Template())
	fmt.Fprintf(w, "  Score:    %d\n", c.Score)

	slots := c.Intent.Slots()
	names := make([]string, 0, len(slots))
	for name := range slots {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  {%s} = %q\n", name, slots[name])
	}
}

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently dispatched utterances",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			j, err := journal.Open(cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer j.Close()

			entries, err := j.Recent(limit)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show (0 for all)")
	return cmd
}

func printHistory(w io.Writer, entries []journal.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No utterances recorded yet. Try 'okpi console'."))
		return
	}

	fmt.Fprintln(w, titleStyle.Render("Recent utterances"))
	fmt.Fprintln(w)
	for _, e := range entries {
		stamp := dimStyle.Render(e.Timestamp.Local().Format("2006-01-02 15:04:05"))
		if e.Outcome == journal.OutcomeFallback {
			fmt.Fprintf(w, "%s %s %q\n", stamp, errorStyle.Render("✗"), e.Text)
			continue
		}
		fmt.Fprintf(w, "%s %s %q → %s\n", stamp, successStyle.Render("✓"), e.Text, e.Skill)
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, err := cfg.YAML()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), titleStyle.Render("okpi configuration"))
			fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render(getConfigPath()))
			fmt.Fprintln(cmd.OutOrStdout())
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), getConfigPath())
		},
	})

	return cmd
}
