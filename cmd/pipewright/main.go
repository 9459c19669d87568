// Command pipewright runs declarative CI-style pipelines defined in HCL.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vk/pipewright/internal/app"
	"github.com/vk/pipewright/internal/rules"
	"github.com/vk/pipewright/internal/scheduler"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

// triggerFlags describe the simulated event a pipeline runs against.
type triggerFlags struct {
	branch  string
	source  string
	tag     string
	changed []string
	vars    []string
}

func (t *triggerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&t.branch, "branch", "main", "branch the pipeline runs for")
	cmd.Flags().StringVar(&t.source, "source", rules.SourcePush, "trigger source: push, merge_request, schedule, api, manual")
	cmd.Flags().StringVar(&t.tag, "tag", "", "tag the pipeline runs for, if any")
	cmd.Flags().StringArrayVar(&t.changed, "changed", nil, "changed file path, repeatable")
	cmd.Flags().StringArrayVar(&t.vars, "var", nil, "trigger variable KEY=VALUE, repeatable")
}

func (t *triggerFlags) context() (rules.Context, error) {
	vars := make(map[string]string, len(t.vars))
	for _, kv := range t.vars {
		k, v, ok := cutVar(kv)
		if !ok {
			return rules.Context{}, fmt.Errorf("invalid --var %q, want KEY=VALUE", kv)
		}
		vars[k] = v
	}
	return rules.Context{
		Branch:  t.branch,
		Source:  t.source,
		Tag:     t.tag,
		Changed: t.changed,
		Vars:    vars,
	}, nil
}

func cutVar(kv string) (string, string, bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], i > 0
		}
	}
	return "", "", false
}

// newApp builds the App for one command invocation. Pipeline paths default
// to the current directory.
func newApp(rf *rootFlags, paths []string) (*app.App, error) {
	cfg, err := app.LoadConfig(rf.configPath)
	if err != nil {
		return nil, err
	}
	if rf.logLevel != "" {
		cfg.Log.Level = rf.logLevel
	}
	if rf.logFormat != "" {
		cfg.Log.Format = rf.logFormat
	}
	if len(paths) == 0 {
		paths = []string{"."}
	}
	return app.New(cfg, paths, os.Stderr)
}

// signalContext cancels on SIGINT/SIGTERM so a running pipeline gets a clean
// cancellation instead of being killed mid-job.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newRunCmd(rf *rootFlags) *cobra.Command {
	var trigger triggerFlags
	var blockOnManual bool
	cmd := &cobra.Command{
		Use:   "run [paths...]",
		Short: "Run the pipeline once and wait for it to finish",
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := trigger.context()
			if err != nil {
				return err
			}
			a, err := newApp(rf, args)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext()
			defer cancel()

			result, err := a.RunPipeline(ctx, rc, blockOnManual)
			if err == app.ErrWorkflowSkipped {
				fmt.Fprintln(cmd.OutOrStdout(), "pipeline skipped by workflow rules")
				return nil
			}
			if err != nil {
				return err
			}
			printResult(cmd, result)
			if result.State != scheduler.PipelineSucceeded && result.State != scheduler.PipelineManual {
				return fmt.Errorf("pipeline %s", result.State)
			}
			return nil
		},
	}
	trigger.register(cmd)
	cmd.Flags().BoolVar(&blockOnManual, "block-on-manual", false, "keep the run open while manual jobs wait for a trigger")
	return cmd
}

func newValidateCmd(rf *rootFlags) *cobra.Command {
	var trigger triggerFlags
	cmd := &cobra.Command{
		Use:   "validate [paths...]",
		Short: "Check the pipeline definition without running anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := trigger.context()
			if err != nil {
				return err
			}
			a, err := newApp(rf, args)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Validate(cmd.Context(), rc)
		},
	}
	trigger.register(cmd)
	return cmd
}

func newWatchCmd(rf *rootFlags) *cobra.Command {
	var trigger triggerFlags
	cmd := &cobra.Command{
		Use:   "watch [paths...]",
		Short: "Re-validate the definition whenever it changes on disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := trigger.context()
			if err != nil {
				return err
			}
			a, err := newApp(rf, args)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext()
			defer cancel()
			err = a.Watch(ctx, rc)
			if err == context.Canceled {
				return nil
			}
			return err
		},
	}
	trigger.register(cmd)
	return cmd
}

func newServeCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [paths...]",
		Short: "Serve the HTTP API for triggering and inspecting pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rf, args)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext()
			defer cancel()
			return a.Serve(ctx)
		},
	}
}

func newHistoryCmd(rf *rootFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [pipeline-id]",
		Short: "List past pipeline runs, or show one run in detail",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rf, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			defer w.Flush()

			if len(args) == 1 {
				record, err := a.History().Get(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "pipeline\t%s\nbranch\t%s\nsource\t%s\nstate\t%s\n\n",
					record.ID, record.Branch, record.Source, record.State)
				fmt.Fprintln(w, "JOB\tSTAGE\tSTATE\tREASON\tDURATION")
				for _, j := range record.Jobs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
						j.Name, j.Stage, j.State, j.Reason, j.Duration.Round(time.Millisecond))
				}
				return nil
			}

			records, err := a.History().List(limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "ID\tBRANCH\tSOURCE\tSTATE\tSTARTED")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.Branch, r.Source, r.State, r.StartedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum pipelines to list")
	return cmd
}

func printResult(cmd *cobra.Command, result *scheduler.PipelineResult) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintf(w, "pipeline %s: %s (%s)\n\n",
		result.ID, result.State, result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))
	jobs := make([]*scheduler.JobResult, 0, len(result.Jobs))
	for _, j := range result.Jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].FinishedAt.Before(jobs[k].FinishedAt) })

	fmt.Fprintln(w, "JOB\tSTAGE\tSTATE\tREASON\tEXIT\tDURATION")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			j.Name, j.Stage, j.StateName, j.Reason, j.ExitCode, j.Duration.Round(time.Millisecond))
	}
}

func newRootCmd() *cobra.Command {
	rf := &rootFlags{}
	root := &cobra.Command{
		Use:           "pipewright",
		Short:         "A declarative pipeline executor",
		Long:          "Pipewright runs CI-style pipelines defined in HCL: stages, jobs, rules,\ndependencies, caches and artifacts, without a forge attached.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&rf.configPath, "config", "", "path to the engine TOML config")
	root.PersistentFlags().StringVar(&rf.logLevel, "log-level", "", "debug, info, warn or error")
	root.PersistentFlags().StringVar(&rf.logFormat, "log-format", "", "text or json")

	root.AddCommand(
		newRunCmd(rf),
		newValidateCmd(rf),
		newWatchCmd(rf),
		newServeCmd(rf),
		newHistoryCmd(rf),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
