package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vampirenirmal/storyforge/internal/brief"
	"github.com/vampirenirmal/storyforge/internal/config"
	"github.com/vampirenirmal/storyforge/internal/pipeline"
	"github.com/vampirenirmal/storyforge/internal/story"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process queued briefs until the queue is empty",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if workers <= 0 {
				workers = a.cfg.Limits.Workers
			}
			orch, err := a.orchestrator()
			if err != nil {
				return err
			}
			pool := pipeline.NewPool(orch, workers, a.cfg.Limits.PollInterval)
			processed, err := pool.Drain(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "Processed %d brief(s)\n", processed)
			return err
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "concurrent workers (default from config)")
	return cmd
}

func newWorkerCmd(opts *rootOptions) *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Poll the queue and process briefs until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if workers <= 0 {
				workers = a.cfg.Limits.Workers
			}
			orch, err := a.orchestrator()
			if err != nil {
				return err
			}
			pool := pipeline.NewPool(orch, workers, a.cfg.Limits.PollInterval)
			processed, err := pool.Run(cmd.Context())
			a.logger.Info("worker stopped", "processed", processed)
			return err
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "concurrent workers (default from config)")
	return cmd
}

// briefFile is the YAML layout accepted by enqueue.
type briefFile struct {
	Briefs []story.Brief `yaml:"briefs"`
}

func readBriefs(r io.Reader) ([]story.Brief, error) {
	var f briefFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("parsing briefs: %w", err)
	}
	if len(f.Briefs) == 0 {
		return nil, errors.New("no briefs in file")
	}
	return f.Briefs, nil
}

func newEnqueueCmd(opts *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "enqueue -f briefs.yaml",
		Short: "Add briefs from a YAML file to the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			briefs, err := readBriefs(in)
			if err != nil {
				return err
			}

			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			for i, b := range briefs {
				queued, err := a.briefs.Enqueue(cmd.Context(), b)
				if err != nil {
					return fmt.Errorf("brief %d: %w", i+1, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), queued.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "YAML file of briefs, - for stdin")
	return cmd
}

func newAutogenCmd(opts *rootOptions) *cobra.Command {
	var seed uint64
	cmd := &cobra.Command{
		Use:   "autogen N",
		Short: "Queue N briefs sampled from the variety matrix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				return fmt.Errorf("invalid count %q", args[0])
			}
			if seed == 0 {
				seed = uint64(time.Now().UnixNano())
			}

			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			briefs, err := a.briefs.AutoGenerate(cmd.Context(), brief.NewGenerator(seed), n)
			for _, b := range briefs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", b.ID, b.ReadingLevel, b.Genre, b.Virtue)
			}
			return err
		},
	}
	cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed (default from the clock)")
	return cmd
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var recent int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue counts and the newest stories",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			counts, err := a.briefs.Counts(cmd.Context())
			if err != nil {
				return err
			}
			stories, err := a.db.RecentStories(cmd.Context(), recent)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "BRIEFS\tCOUNT")
			for _, status := range sortedStatuses(counts) {
				fmt.Fprintf(w, "%s\t%d\n", status, counts[status])
			}
			if len(stories) > 0 {
				fmt.Fprintln(w, "\nSTORY\tSTATUS\tQUALITY\tTITLE")
				for _, s := range stories {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.ID, s.Status, s.QualityScore, s.Title)
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&recent, "recent", "n", 10, "number of recent stories to list")
	return cmd
}

func sortedStatuses(counts map[story.BriefStatus]int) []story.BriefStatus {
	out := make([]story.BriefStatus, 0, len(counts))
	for s := range counts {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func newInitCmd(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configPath
			if path == "" {
				path = config.DefaultPath()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.Save(config.Default(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
