package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Delmoro12/Elevalucro-BPO-sub001/config"
	"github.com/Delmoro12/Elevalucro-BPO-sub001/export"
	"github.com/Delmoro12/Elevalucro-BPO-sub001/factory"
	"github.com/Delmoro12/Elevalucro-BPO-sub001/internal/bootstrap"
	"github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence"
	"github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence/store"
)

// errInvalidRule makes `validate` exit non-zero after printing the defects.
var errInvalidRule = errors.New("rule is invalid")

type globalOptions struct {
	envFile string
	store   string
	dsn     string
	json    bool
}

func (o *globalOptions) config() (*config.Config, error) {
	cfg, err := config.Load(o.envFile)
	if err != nil {
		return nil, err
	}
	if o.store != "" {
		cfg.Store = o.store
	}
	if o.dsn != "" {
		cfg.DSN = o.dsn
	}
	return cfg, cfg.Validate()
}

// engine opens the configured store.
func (o *globalOptions) engine(cmd *cobra.Command) (*recurrence.Engine, func(), error) {
	cfg, err := o.config()
	if err != nil {
		return nil, nil, err
	}
	logger := bootstrap.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	return bootstrap.NewEngine(cmd.Context(), cfg, logger)
}

// offlineEngine runs on an empty in-memory store with the configured policy.
func (o *globalOptions) offlineEngine() (*recurrence.Engine, error) {
	cfg, err := config.Load(o.envFile)
	if err != nil {
		return nil, err
	}
	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	return recurrence.New(store.NewMemory(), recurrence.WithPolicy(policy)), nil
}

func (o *globalOptions) print(w io.Writer, v any, text func(io.Writer) error) error {
	if o.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(w)
}

// readInput reads a file argument; "-" reads stdin.
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

// =============================================================================
// OFFLINE COMMANDS
// =============================================================================

func validateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [rule.json|-]",
		Short: "Check a rule payload and list every defect",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			freq, params, err := factory.New().ParseRule(data)
			if err != nil {
				return err
			}
			res := recurrence.Validate(freq, params)
			err = opts.print(cmd.OutOrStdout(), res, func(w io.Writer) error {
				if res.Valid {
					fmt.Fprintf(w, "valid %s rule\n", freq)
					return nil
				}
				for _, e := range res.Errors {
					fmt.Fprintf(w, "- %s\n", e)
				}
				return nil
			})
			if err != nil {
				return err
			}
			if !res.Valid {
				return errInvalidRule
			}
			return nil
		},
	}
}

func previewCmd(opts *globalOptions) *cobra.Command {
	var start string
	var maxItems int
	cmd := &cobra.Command{
		Use:   "preview [rule.json|-]",
		Short: "List the dates a rule produces from --start",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			freq, params, err := factory.New().ParseRule(data)
			if err != nil {
				return err
			}
			from, err := recurrence.ParseDate(start)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			engine, err := opts.offlineEngine()
			if err != nil {
				return err
			}
			var dates []recurrence.Date
			if maxItems == 0 {
				dates, err = engine.GenerationDates(from, freq, params)
			} else {
				dates, err = engine.PreviewDates(from, freq, params, maxItems)
			}
			if err != nil {
				return err
			}

			var rrule string
			if len(dates) > 0 {
				rule, _ := recurrence.BuildRule(freq, params)
				rrule, _ = recurrence.RRule(dates[0], rule, len(dates))
			}
			out := struct {
				Dates []recurrence.Date `json:"dates"`
				RRule string            `json:"rrule,omitempty"`
			}{dates, rrule}
			return opts.print(cmd.OutOrStdout(), out, func(w io.Writer) error {
				for i, d := range dates {
					fmt.Fprintf(w, "%3d  %s  %s\n", i+1, d, d.Weekday().String()[:3])
				}
				if rrule != "" {
					fmt.Fprintf(w, "RRULE: %s\n", rrule)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().IntVarP(&maxItems, "max", "n", 0, "Maximum dates (default: the dates a created series gets)")
	cmd.MarkFlagRequired("start")
	return cmd
}

// =============================================================================
// STORE COMMANDS
// =============================================================================

func createCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create [series.json|-]",
		Short: "Create a series from a payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			req, err := factory.New().ParseSeries(data)
			if err != nil {
				return err
			}
			engine, closeEngine, err := opts.engine(cmd)
			if err != nil {
				return err
			}
			defer closeEngine()

			series, err := engine.CreateSeries(cmd.Context(), req.Template, req.Start, req.Frequency, req.Params)
			var partial *recurrence.PartialSeriesError
			if err != nil && !errors.As(err, &partial) {
				return err
			}
			out := struct {
				SeriesID  recurrence.SeriesID       `json:"series_id"`
				AnchorID  recurrence.ObligationID   `json:"anchor_id"`
				MemberIDs []recurrence.ObligationID `json:"member_ids"`
			}{series.ID, series.Anchor.ID, series.MemberIDs()}
			if perr := opts.print(cmd.OutOrStdout(), out, func(w io.Writer) error {
				fmt.Fprintf(w, "series %s: anchor %s + %d members\n", out.SeriesID, out.AnchorID, len(out.MemberIDs))
				return nil
			}); perr != nil {
				return perr
			}
			return err
		},
	}
}

func showCmd(opts *globalOptions) *cobra.Command {
	var today string
	cmd := &cobra.Command{
		Use:   "show [series-id]",
		Short: "List the members of a series",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := optionalDate(today)
			if err != nil {
				return fmt.Errorf("--today: %w", err)
			}
			engine, closeEngine, err := opts.engine(cmd)
			if err != nil {
				return err
			}
			defer closeEngine()

			views, err := engine.ListSeries(cmd.Context(), recurrence.SeriesID(args[0]), day)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), views, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "POS\tDUE\tVALUE\tSTATUS\tDISPLAY\tID")
				for _, v := range views {
					fmt.Fprintf(tw, "%d/%d\t%s\t%s %s\t%s\t%s\t%s\n",
						v.Position, v.SeriesSize, v.DueDate, v.Value.StringFixed(2), v.Currency,
						v.Status, v.Tag, v.ID)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&today, "today", "", "Date display statuses are computed for (default: today)")
	return cmd
}

func healthCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health [series-id]",
		Short: "Compare expected and present members of a series",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closeEngine, err := opts.engine(cmd)
			if err != nil {
				return err
			}
			defer closeEngine()

			health, err := engine.CheckSeries(cmd.Context(), recurrence.SeriesID(args[0]))
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), health, func(w io.Writer) error {
				state := "complete"
				if health.Incomplete {
					state = "INCOMPLETE"
				}
				fmt.Fprintf(w, "series %s: %s (%d of %d present, run %s)\n",
					health.SeriesID, state, health.Present, health.Expected, valueOr(string(health.Run), "unknown"))
				if len(health.Missing) > 0 {
					fmt.Fprintf(w, "missing positions: %s\n", joinInts(health.Missing))
				}
				return nil
			})
		},
	}
}

func resumeCmd(opts *globalOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "resume [series-id]",
		Short: "Create the members a failed generation left out",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closeEngine, err := opts.engine(cmd)
			if err != nil {
				return err
			}
			defer closeEngine()

			ids := make([]recurrence.SeriesID, 0, 1)
			if all {
				runs, err := engine.Reconciler.IncompleteRuns(cmd.Context())
				if err != nil {
					return err
				}
				for _, r := range runs {
					ids = append(ids, r.SeriesID)
				}
			} else {
				ids = append(ids, recurrence.SeriesID(args[0]))
			}
			return resumeAll(cmd.Context(), cmd.OutOrStdout(), engine, ids)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Resume every incomplete series")
	return cmd
}

func resumeAll(ctx context.Context, w io.Writer, engine *recurrence.Engine, ids []recurrence.SeriesID) error {
	var errs []error
	for _, id := range ids {
		created, err := engine.ResumeSeries(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("series %s: %w", id, err))
		}
		fmt.Fprintf(w, "series %s: %d created\n", id, len(created))
	}
	if len(ids) == 0 {
		fmt.Fprintln(w, "nothing to resume")
	}
	return errors.Join(errs...)
}

func exportCmd(opts *globalOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export [series-id]",
		Short: "Write a series as an iCalendar file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closeEngine, err := opts.engine(cmd)
			if err != nil {
				return err
			}
			defer closeEngine()

			views, err := engine.ListSeries(cmd.Context(), recurrence.SeriesID(args[0]), recurrence.Date{})
			if err != nil {
				return err
			}
			data, err := export.EncodeSeries(views, export.Options{})
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(out, data, 0o644)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default: stdout)")
	return cmd
}

// =============================================================================
// HELPERS
// =============================================================================

func optionalDate(s string) (recurrence.Date, error) {
	if s == "" {
		return recurrence.Date{}, nil
	}
	return recurrence.ParseDate(s)
}

func valueOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ", ")
}
