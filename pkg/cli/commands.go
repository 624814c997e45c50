package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"kpi-dashboard/pkg/api"
	"kpi-dashboard/pkg/calculator"
	"kpi-dashboard/pkg/database"
	"kpi-dashboard/pkg/ingestion"
	"kpi-dashboard/pkg/kpi"
	"kpi-dashboard/pkg/models"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the customers and orders tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, func(a *app) error {
				if err := database.Migrate(cmd.Context(), a.store.DB(), a.store.Dialect()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema ready (%s)\n", a.store.Dialect())
				return nil
			})
		},
	}
}

/*
LOAD → customers CSV / orders XML
*/

func newLoadCmd(opts *rootOptions) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:       "load customers|orders <file>",
		Short:     "Validate and load a customers CSV or an orders XML file",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"customers", "orders"},
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, path := args[0], args[1]
			if entity != "customers" && entity != "orders" {
				return errors.Newf("unknown entity %q (expected customers or orders)", entity)
			}
			m, err := ingestion.ParseMode(mode)
			if err != nil {
				return err
			}
			f, err := os.Open(path)
			if err != nil {
				return errors.Wrap(err, "open input")
			}
			defer f.Close()
			st, err := f.Stat()
			if err != nil {
				return errors.Wrap(err, "stat input")
			}

			return withApp(opts, func(a *app) error {
				bar := progressbar.DefaultBytes(st.Size(), "reading "+entity)
				r := io.TeeReader(f, bar)

				var rep models.LoadReport
				if entity == "customers" {
					rep, err = a.loader.LoadCustomers(cmd.Context(), r, m)
				} else {
					rep, err = a.loader.LoadOrders(cmd.Context(), r, m)
				}
				_ = bar.Finish()
				printReport(cmd.OutOrStdout(), rep, st.Size())
				return err
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(models.LoadReplace), "replace or append")
	return cmd
}

/*
COMPUTE → one KPI or all of them
*/

type kpiFlags struct {
	strategy   string
	windowDays int
	limit      int
	dense      bool
	asJSON     bool
	verbose    bool
}

// params keeps only the options set on the command line so that defaults stay
// with the engine.
func (f *kpiFlags) params(cmd *cobra.Command) kpi.Params {
	p := kpi.Params{}
	if cmd.Flags().Changed("window-days") {
		p[kpi.OptWindowDays] = f.windowDays
	}
	if cmd.Flags().Changed("limit") {
		p[kpi.OptLimit] = f.limit
	}
	return p
}

func kpiNames(arg string) []models.KPIName {
	if arg == "" || arg == "all" {
		return nil
	}
	return []models.KPIName{models.KPIName(arg)}
}

func newKPICmd(opts *rootOptions) *cobra.Command {
	f := &kpiFlags{}
	cmd := &cobra.Command{
		Use:   "kpi <name|all>",
		Short: "Compute KPIs: " + catalogNames(),
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) == 1 {
				name = args[0]
			}
			return withApp(opts, func(a *app) error {
				results, err := calculator.Run(cmd.Context(), a.engine, models.Config{
					KPIs:     kpiNames(name),
					Strategy: models.Strategy(f.strategy),
					Params:   f.params(cmd),
					Verbose:  f.verbose,
				})
				if err != nil {
					return err
				}
				for i, res := range results {
					if f.dense {
						if results[i], err = calculator.FillMonthGaps(res); err != nil {
							return err
						}
					}
				}
				out := cmd.OutOrStdout()
				if f.asJSON {
					payload := make([]api.ResultJSON, 0, len(results))
					for _, res := range results {
						payload = append(payload, api.RenderResult(res))
					}
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(payload)
				}
				for _, res := range results {
					printResult(out, res)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.strategy, "strategy", "", "pushdown or in_memory (default: configured strategy)")
	cmd.Flags().IntVar(&f.windowDays, "window-days", kpi.DefaultWindowDays, "trailing window of top_customers, in days")
	cmd.Flags().IntVar(&f.limit, "limit", kpi.DefaultLimit, "number of top customers")
	cmd.Flags().BoolVar(&f.dense, "dense", false, "fill months without orders in monthly_trends")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print JSON instead of tables")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "log one line per KPI")
	return cmd
}

func catalogNames() string {
	names := make([]string, len(models.AllKPIs))
	for i, n := range models.AllKPIs {
		names[i] = string(n)
	}
	return strings.Join(names, ", ")
}

/*
VERIFY → both strategies, byte-identical canonical output
*/

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	f := &kpiFlags{}
	cmd := &cobra.Command{
		Use:   "verify [name|all]",
		Short: "Run both strategies and compare their canonical outputs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "all"
			if len(args) == 1 {
				name = args[0]
			}
			return withApp(opts, func(a *app) error {
				var (
					vs  []*calculator.Verification
					err error
				)
				if name == "all" {
					vs, err = a.engine.VerifyAll(cmd.Context(), f.params(cmd))
				} else {
					var v *calculator.Verification
					v, err = a.engine.Verify(cmd.Context(), name, f.params(cmd))
					if v != nil {
						vs = append(vs, v)
					}
				}
				printVerifications(cmd.OutOrStdout(), vs)
				return err
			})
		},
	}
	cmd.Flags().IntVar(&f.windowDays, "window-days", kpi.DefaultWindowDays, "trailing window of top_customers, in days")
	cmd.Flags().IntVar(&f.limit, "limit", kpi.DefaultLimit, "number of top customers")
	return cmd
}
