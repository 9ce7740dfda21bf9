package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"fibhost/cmd/fibhost/ui"
	"fibhost/internal/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// historyCmd shows recent journal entries
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently recorded calls",
	RunE:  runHistory,
}

// configCmd groups config subcommands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the fibhost configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

func runHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	journal, err := openJournal()
	if err != nil {
		return err
	}
	if journal == nil {
		fmt.Println("Journal is disabled.")
		return nil
	}
	defer journal.Close()

	ctx, cancel := commandContext()
	defer cancel()

	entries, err := journal.Recent(ctx, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No calls recorded yet.")
		return nil
	}

	table := ui.NewSimpleTable("Recent calls", []string{"time", "source", "call", "result", "ms"})
	for _, e := range entries {
		argStrs := make([]string, len(e.Args))
		for i, a := range e.Args {
			argStrs[i] = strconv.FormatInt(a, 10)
		}
		result := strconv.FormatInt(e.Result, 10)
		if !e.Succeeded() {
			result = "error: " + e.Error
		}
		table.AddRow(
			e.CreatedAt.Local().Format(time.DateTime),
			e.Source,
			fmt.Sprintf("%s(%s)", e.Name, strings.Join(argStrs, ", ")),
			result,
			strconv.FormatInt(e.DurationMs, 10),
		)
	}
	fmt.Print(table.View(styles))
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists: %s", configPath)
	}
	if err := config.DefaultConfig().Save(configPath); err != nil {
		return err
	}
	fmt.Println(styles.Success.Render("Wrote " + configPath))
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Print(string(data))
	return nil
}
