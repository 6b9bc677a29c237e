package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/remiblancher/cmpctx/internal/cli"
	"github.com/remiblancher/cmpctx/internal/cmp"
)

var optionsCmd = &cobra.Command{
	Use:   "options [name...]",
	Short: "List context options with their values and ranges",
	Long: `List the integer and boolean options of a CMP context.

Without --config the values are the defaults of a fresh context, with
log_verbosity taken from --verbosity. With --config the configuration is
applied first, so the values shown are the ones the context would use.

Examples:
  cmpctx options
  cmpctx options popo_method revocation_reason
  cmpctx options --config client.yaml --json`,
	RunE: runOptions,
}

var (
	optionsConfigPath string
	optionsJSON       bool
)

func init() {
	optionsCmd.Flags().StringVarP(&optionsConfigPath, "config", "c", "", "Context configuration file")
	optionsCmd.Flags().BoolVar(&optionsJSON, "json", false, "Output as JSON")
}

type optionRow struct {
	Name    string `json:"name"`
	Value   int    `json:"value"`
	Meaning string `json:"meaning,omitempty"`
	Min     int    `json:"min"`
	Max     *int   `json:"max,omitempty"`
}

func runOptions(cmd *cobra.Command, args []string) error {
	var (
		ctx *cmp.Context
		err error
	)
	if optionsConfigPath != "" {
		var release func()
		ctx, _, release, err = openContext(cmd, optionsConfigPath)
		if err != nil {
			return fmt.Errorf("context configuration failed: %w", err)
		}
		defer release()
	} else {
		if ctx, err = newCommandContext(cmd, ""); err != nil {
			return err
		}
		defer func() { _ = ctx.Close() }()
	}

	opts := cmp.Options()
	if len(args) > 0 {
		opts = opts[:0:0]
		for _, name := range args {
			opt, err := cmp.ParseOption(name)
			if err != nil {
				return err
			}
			opts = append(opts, opt)
		}
	}

	rows := make([]optionRow, 0, len(opts))
	for _, opt := range opts {
		val, err := ctx.Option(opt)
		if err != nil {
			return err
		}
		lo, hi, hasMax, err := opt.Range()
		if err != nil {
			return err
		}
		row := optionRow{Name: opt.String(), Value: val, Meaning: cli.OptionValueName(opt, val), Min: lo}
		if hasMax {
			row.Max = &hi
		}
		rows = append(rows, row)
	}

	out := cmd.OutOrStdout()
	if optionsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	fmt.Fprintf(out, "%-32s %8s  %-10s %s\n", "OPTION", "VALUE", "RANGE", "MEANING")
	for _, r := range rows {
		hi := "-"
		if r.Max != nil {
			hi = strconv.Itoa(*r.Max)
		}
		rng := strconv.Itoa(r.Min) + ".." + hi
		fmt.Fprintf(out, "%-32s %8d  %-10s %s\n", r.Name, r.Value, rng, r.Meaning)
	}
	return nil
}
