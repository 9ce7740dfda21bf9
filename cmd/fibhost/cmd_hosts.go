package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"fibhost/internal/document"
	"fibhost/internal/logging"
	"fibhost/internal/store"
	"fibhost/internal/wasm"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// scriptCmd evaluates a Go script against the bindings
var scriptCmd = &cobra.Command{
	Use:   "script [file]",
	Short: "Run a Go script that imports the bindings",
	Long: `Evaluates a Go source file with the embedded interpreter. The script
imports the bindings package (default "fibhost/bindings") and either
defines func Run() (string, error) or prints from main.

Use "-" to read the script from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runScript,
}

// wasmCmd calls an export of a WebAssembly guest
var wasmCmd = &cobra.Command{
	Use:   "wasm [n]",
	Short: "Call fibonacci(n) inside a WebAssembly guest",
	Args:  cobra.ExactArgs(1),
	RunE:  runWasm,
}

// renderCmd executes the scripts of an SVG/HTML page
var renderCmd = &cobra.Command{
	Use:   "render [page]",
	Short: "Execute the scripts embedded in an SVG page",
	Long: `Runs every <script type="text/go"> and <script type="text/wasm"> found
inside <svg> elements and writes the resulting page. Script output and
errors are appended to the svg as <text> elements.`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func runScript(cmd *cobra.Command, args []string) error {
	var code []byte
	var err error
	if args[0] == "-" {
		var buf bytes.Buffer
		_, err = buf.ReadFrom(cmd.InOrStdin())
		code = buf.Bytes()
	} else {
		code, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to read script: %w", err)
	}

	s, err := newSession(store.SourceScript)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := commandContext()
	defer cancel()

	out, err := s.executor().Run(ctx, string(code))
	if err != nil {
		return err
	}
	fmt.Print(out)
	if len(out) > 0 && out[len(out)-1] != '\n' {
		fmt.Println()
	}
	return nil
}

func runWasm(cmd *cobra.Command, args []string) error {
	n, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("%q is not a 32-bit integer", args[0])
	}

	modulePath, _ := cmd.Flags().GetString("module")
	if modulePath == "" {
		modulePath = resolvePath(cfg.Wasm.ModulePath)
	}
	export, _ := cmd.Flags().GetString("export")
	if export == "" {
		export = cfg.Wasm.Export
	}

	var code []byte
	if modulePath != "" {
		if code, err = os.ReadFile(modulePath); err != nil {
			return fmt.Errorf("failed to read module: %w", err)
		}
	}

	journal, err := openJournal()
	if err != nil {
		return err
	}
	if journal != nil {
		defer journal.Close()
	}

	ctx, cancel := commandContext()
	defer cancel()

	host, err := wasm.NewHost(ctx, code, wasmConfig())
	if err != nil {
		return err
	}
	defer host.Close(ctx)

	callCtx, callCancel := context.WithTimeout(ctx, cfg.GetWasmCallTimeout())
	defer callCancel()

	started := time.Now()
	result, callErr := host.Call(callCtx, export, int32(n))

	if journal != nil {
		entry := store.Entry{
			ID:         uuid.New().String(),
			Source:     store.SourceWasm,
			Name:       export,
			Args:       []int64{n},
			Result:     int64(result),
			DurationMs: time.Since(started).Milliseconds(),
			CreatedAt:  started,
		}
		if callErr != nil {
			entry.Result = 0
			entry.Error = callErr.Error()
		}
		if err := journal.Record(ctx, entry); err != nil {
			logger.Warn("Failed to record wasm call", zap.Error(err))
		}
	}

	if callErr != nil {
		return callErr
	}
	fmt.Println(result)
	return nil
}

func runRender(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	watch, _ := cmd.Flags().GetBool("watch")
	langs, _ := cmd.Flags().GetStringSlice("lang")
	if len(langs) == 0 {
		langs = cfg.Document.Languages
	}
	if watch && output == "" {
		return fmt.Errorf("--watch requires --output")
	}

	s, err := newSession(store.SourceScript)
	if err != nil {
		return err
	}
	defer s.Close()

	opts := []document.RuntimeOption{
		document.WithLanguages(langs...),
		document.WithLogger(logs.Get(logging.CategoryDocument)),
	}
	if s.journal != nil {
		opts = append(opts, document.WithCallObserver(s.journal.Observer(store.SourceWasm)))
	}
	rt := document.NewRuntime(s.executor(), func(ctx context.Context, code []byte) (document.WasmModule, error) {
		return wasm.NewHost(ctx, code, wasmConfig())
	}, opts...)

	if watch {
		return watchPage(rt, args[0], output)
	}

	ctx, cancel := commandContext()
	defer cancel()

	timer := logs.StartTimer(logging.CategoryDocument, "render "+args[0])
	defer timer.Stop()

	doc, err := document.LoadFile(args[0])
	if err != nil {
		return err
	}
	results, err := rt.ExecuteAll(ctx, doc)
	if err != nil {
		return err
	}
	reportResults(results)

	var buf bytes.Buffer
	if err := doc.Render(&buf); err != nil {
		return fmt.Errorf("failed to render page: %w", err)
	}
	if output == "" {
		fmt.Println(buf.String())
		return nil
	}
	return os.WriteFile(output, buf.Bytes(), 0644)
}

// watchPage re-renders until interrupted; --timeout does not apply.
func watchPage(rt *document.Runtime, page, output string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w, err := document.NewWatcher(rt, page, output,
		document.WithDebounce(cfg.GetWatchDebounce()),
		document.WithWatcherLogger(logs.Get(logging.CategoryDocument)),
		document.WithRenderFunc(func(results []document.Result, err error) {
			if err != nil {
				fmt.Fprintln(os.Stderr, styles.Error.Render("render failed: "+err.Error()))
				return
			}
			reportResults(results)
			fmt.Fprintln(os.Stderr, styles.Muted.Render("rendered "+output))
		}),
	)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

// reportResults prints script failures to stderr; the page carries them too.
func reportResults(results []document.Result) {
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(os.Stderr, "%s %s script #%d: %v\n", styles.Error.Render("error"), r.Language, r.Index, r.Err)
		}
	}
}
