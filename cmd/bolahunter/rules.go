package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/bolahunter/internal/rules"
	"github.com/raaihank/bolahunter/internal/settings"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage identifier rules in the configured settings store",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules in evaluation order",
	Args:  cobra.NoArgs,
	RunE: withRuleStore(func(cmd *cobra.Command, args []string, store *rules.Store) error {
		printRules(cmd.OutOrStdout(), store.Compiled())
		return nil
	}),
}

var rulesAddCmd = &cobra.Command{
	Use:   "add [name] [pattern]",
	Short: "Append an enabled rule",
	Args:  cobra.ExactArgs(2),
	RunE: withRuleStore(func(cmd *cobra.Command, args []string, store *rules.Store) error {
		if err := store.Add(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		added := store.Compiled()[len(store.Compiled())-1]
		if added.Err != nil {
			printWarning("Rule %q added but its pattern does not compile: %v", added.Name, added.Err)
			return nil
		}
		printSuccess("Rule %q added", added.Name)
		return nil
	}),
}

var rulesEnableCmd = &cobra.Command{
	Use:   "enable [index]",
	Short: "Enable the rule at index",
	Args:  cobra.ExactArgs(1),
	RunE:  withRuleStore(toggleRule(true)),
}

var rulesDisableCmd = &cobra.Command{
	Use:   "disable [index]",
	Short: "Disable the rule at index",
	Args:  cobra.ExactArgs(1),
	RunE:  withRuleStore(toggleRule(false)),
}

var rulesResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Replace all rules with the built-in defaults",
	Args:  cobra.NoArgs,
	RunE: withRuleStore(func(cmd *cobra.Command, args []string, store *rules.Store) error {
		if err := store.ResetToDefaults(cmd.Context()); err != nil {
			return err
		}
		printSuccess("Rules reset to defaults")
		printRules(cmd.OutOrStdout(), store.Compiled())
		return nil
	}),
}

func init() {
	rulesCmd.AddCommand(rulesListCmd, rulesAddCmd, rulesEnableCmd, rulesDisableCmd, rulesResetCmd)
	rootCmd.AddCommand(rulesCmd)
}

// withRuleStore opens the configured settings backend and loads the rules
// before running fn.
func withRuleStore(fn func(*cobra.Command, []string, *rules.Store) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Settings.Backend == settings.BackendMemory || cfg.Settings.Backend == "" {
			printWarning("Settings backend is memory; changes made here are not persisted")
		}

		backend, err := settings.New(cfg.Settings, zap.NewNop())
		if err != nil {
			return err
		}
		defer backend.Close()

		if cmd.Context() == nil {
			cmd.SetContext(context.Background())
		}
		store := rules.NewStore(backend, zap.NewNop())
		if err := store.Load(cmd.Context()); err != nil {
			return err
		}
		return fn(cmd, args, store)
	}
}

func toggleRule(enabled bool) func(*cobra.Command, []string, *rules.Store) error {
	return func(cmd *cobra.Command, args []string, store *rules.Store) error {
		index, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid rule index %q", args[0])
		}
		if err := store.SetEnabled(cmd.Context(), index, enabled); err != nil {
			return err
		}
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		printSuccess("Rule %d (%s) %s", index, store.All()[index].Name, state)
		return nil
	}
}

func printRules(w io.Writer, compiled []*rules.CompiledRule) {
	bold := color.New(color.Bold)
	bold.Fprintf(w, "%-5s %-4s %-16s %s\n", "INDEX", "ON", "TYPE", "PATTERN")
	for i, r := range compiled {
		on := color.GreenString("yes")
		if !r.Enabled {
			on = color.YellowString("no ")
		}
		pattern := r.Pattern
		if r.Err != nil {
			pattern = color.RedString("%s  (invalid: %v)", r.Pattern, r.Err)
		}
		fmt.Fprintf(w, "%-5d %s  %-16s %s\n", i, on, r.Name, pattern)
	}
}
