package main

import (
	"fmt"
	"strconv"

	"fibhost/cmd/fibhost/ui"
	"fibhost/internal/binding"
	"fibhost/internal/fib"
	"fibhost/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// evalCmd computes one value through the binding export table
var evalCmd = &cobra.Command{
	Use:   "eval [n]",
	Short: "Compute fibonacci(n) through the binding export",
	Long: `Calls the "fibonacci" export with n. The computation is the naive
recursive definition, so large n takes exponential time. Values above
index 46 overflow the 32-bit result and wrap.`,
	Args: cobra.ExactArgs(1),
	RunE: runEval,
}

// callCmd calls any registered export by name
var callCmd = &cobra.Command{
	Use:   "call [name] [args...]",
	Short: "Call a registered export by name",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCall,
}

// tableCmd prints fibonacci values over a range of indices
var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "Print fibonacci(n) for a range of n",
	RunE:  runTable,
}

// bindingsCmd lists the export table
var bindingsCmd = &cobra.Command{
	Use:   "bindings",
	Short: "List the registered exports",
	RunE:  runBindings,
}

func runEval(cmd *cobra.Command, args []string) error {
	return runCall(cmd, []string{"fibonacci", args[0]})
}

func runCall(cmd *cobra.Command, args []string) error {
	name := args[0]
	callArgs, err := parseArgs(args[1:])
	if err != nil {
		return err
	}

	s, err := newSession(store.SourceNative)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := commandContext()
	defer cancel()

	result, err := s.registry.Call(ctx, name, callArgs...)
	if err != nil {
		return err
	}
	logger.Debug("Call complete", zap.String("name", name), zap.Int64("result", result))
	fmt.Println(result)
	return nil
}

func parseArgs(args []string) ([]int64, error) {
	out := make([]int64, len(args))
	for i, a := range args {
		n, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %q is not an integer", i+1, a)
		}
		out[i] = n
	}
	return out, nil
}

func runTable(cmd *cobra.Command, args []string) error {
	from, _ := cmd.Flags().GetInt32("from")
	to, _ := cmd.Flags().GetInt32("to")
	workers, _ := cmd.Flags().GetInt("workers")
	if to < from {
		return fmt.Errorf("--to (%d) must not be below --from (%d)", to, from)
	}
	if workers < 1 {
		workers = 1
	}

	s, err := newSession(store.SourceNative)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := commandContext()
	defer cancel()

	values := make([]int64, int(to-from)+1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range values {
		i := i
		n := int64(from) + int64(i)
		g.Go(func() error {
			v, err := s.registry.Call(gctx, "fibonacci", n)
			if err != nil {
				return fmt.Errorf("fibonacci(%d): %w", n, err)
			}
			values[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	table := ui.NewSimpleTable("Fibonacci", []string{"n", "fibonacci(n)"})
	for i, v := range values {
		n := int64(from) + int64(i)
		cell := strconv.FormatInt(v, 10)
		if n > fib.MaxExactIndex {
			cell += " (wrapped)"
		}
		table.AddRow(strconv.FormatInt(n, 10), cell)
	}
	fmt.Print(table.View(styles))
	return nil
}

func runBindings(cmd *cobra.Command, args []string) error {
	markdown, _ := cmd.Flags().GetBool("markdown")

	reg := binding.Default(nil)
	exports := reg.List()

	if markdown {
		out, err := ui.RenderMarkdown(ui.BindingsMarkdown(exports, cfg.Script.ImportPath), styles.Theme, 80)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	}

	table := ui.NewSimpleTable("Bindings ("+cfg.Script.ImportPath+")", []string{"name", "symbol", "signature"})
	for _, e := range exports {
		table.AddRow(e.Name, e.Symbol, e.Signature)
	}
	fmt.Print(table.View(styles))
	return nil
}
