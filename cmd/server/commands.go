package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/listing-codes/codes"
	"github.com/warp/listing-codes/export"
	"github.com/warp/listing-codes/factory"
)

var (
	prefixFlag      string
	transactionFlag string
	buildingFlag    string
	actorFlag       string
	encodingFlag    string
	columnFlag      string
	repairFlag      bool
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Print the next free code without reserving it",
	Example: `  listing-codes preview --prefix C
  listing-codes preview --transaction 전세 --building 빌라`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		alloc, err := a.allocator.Preview(cmd.Context(), a.prefix())
		if err != nil {
			return err
		}
		return printJSON(cmd, alloc)
	},
}

var reserveCmd = &cobra.Command{
	Use:   "reserve",
	Short: "Reserve the next code (preview + commit)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		alloc, err := a.allocator.Reserve(cmd.Context(), a.prefix(), actorFlag)
		if err != nil {
			return err
		}
		return printJSON(cmd, alloc)
	},
}

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Seed used codes from a legacy CSV",
	Long: `Marks every code in FILE as used and raises the prefix counters so new
codes continue after the highest imported number. Korean Excel exports
are usually EUC-KR: pass --encoding euc-kr.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.allocator.Import(cmd.Context(), f, codes.ImportOptions{
			Encoding: encodingFlag,
			Column:   columnFlag,
			Actor:    actorFlag,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, report)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export FILE",
	Short: "Write listings and counters to an XLSX workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		data, err := export.NewService(a.store, a.allocator, logger).Workbook(cmd.Context())
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[0], data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", args[0], err)
		}
		logger.Info("workbook exported", zap.String("file", args[0]), zap.Int("bytes", len(data)))
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that every counter covers its used codes",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		var violations []codes.Violation
		if repairFlag {
			violations, err = a.allocator.Repair(cmd.Context(), actorFlag)
		} else {
			violations, err = a.allocator.Verify(cmd.Context())
		}
		if err != nil {
			return err
		}
		if err := printJSON(cmd, violations); err != nil {
			return err
		}
		if len(violations) > 0 && !repairFlag {
			return fmt.Errorf("%d prefix(es) behind their used codes; rerun with --repair", len(violations))
		}
		return nil
	},
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Print the active prefix rule document",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Codes.RulesFile == "" {
			fmt.Fprintln(cmd.OutOrStdout(), factory.DefaultRulesJSON())
			return nil
		}
		resolver, err := factory.LoadRules(cfg.Codes.RulesFile)
		if err != nil {
			return err
		}
		return printJSON(cmd, factory.ToJSON(resolver))
	},
}

func init() {
	for _, c := range []*cobra.Command{previewCmd, reserveCmd} {
		c.Flags().StringVar(&prefixFlag, "prefix", "", "code prefix (e.g. C, BL)")
		c.Flags().StringVar(&transactionFlag, "transaction", "", "transaction type label (매매, 전세, 월세)")
		c.Flags().StringVar(&buildingFlag, "building", "", "building type label (아파트, 빌라, ...)")
	}
	for _, c := range []*cobra.Command{reserveCmd, importCmd, verifyCmd} {
		c.Flags().StringVar(&actorFlag, "actor", "cli", "recorded in allocation history")
	}
	importCmd.Flags().StringVar(&encodingFlag, "encoding", codes.EncodingUTF8, "utf-8 or euc-kr")
	importCmd.Flags().StringVar(&columnFlag, "column", "", "header of the code column (default: detect)")
	verifyCmd.Flags().BoolVar(&repairFlag, "repair", false, "raise lagging counters")
}

// prefix is --prefix, or the prefix resolved from the label flags.
func (a *app) prefix() codes.Prefix {
	if prefixFlag != "" {
		return codes.Prefix(prefixFlag)
	}
	return a.resolver.Resolve(transactionFlag, buildingFlag)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
