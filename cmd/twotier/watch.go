package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/lex00/twotier-aws-go/internal/validation"
)

// newWatchCmd creates the "watch" subcommand for rebuilding on config changes.
func newWatchCmd(opts *rootOptions) *cobra.Command {
	var (
		debounce     time.Duration
		outputFormat string
		outputFile   string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rebuild the template when the configuration changes",
		Long: `Watch monitors the configuration file and rebuilds on every change.

The watch command:
- Watches the directory holding the configuration file, so editors that
  replace the file on save are seen
- Runs the structural checks on each rebuild
- Debounces rapid changes to avoid excessive rebuilds

Examples:
    twotier watch -c env.yaml -o template.json
    twotier watch -c env.yaml --debounce 1s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.configFile == "" {
				return fmt.Errorf("watch requires --config")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd.OutOrStdout(), opts, watchOptions{
				debounce:     debounce,
				outputFormat: outputFormat,
				outputFile:   outputFile,
			})
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "Debounce duration for rapid changes")
	cmd.Flags().StringVarP(&outputFormat, "format", "f", "json", "Output format for build: json or yaml")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file for build (default: report only)")

	return cmd
}

type watchOptions struct {
	debounce     time.Duration
	outputFormat string
	outputFile   string
}

// runWatch rebuilds once, then again after every settled change to the
// configuration file, until ctx is done.
func runWatch(ctx context.Context, w io.Writer, opts *rootOptions, wopts watchOptions) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	target, err := filepath.Abs(opts.configFile)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}
	fmt.Fprintf(w, "Watching: %s\n", target)

	rebuild(ctx, w, opts, wopts)

	var debounceTimer *time.Timer
	rebuildChan := make(chan struct{}, 1)

	fmt.Fprintln(w, "\nWatching for changes... (Ctrl+C to stop)")

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isConfigEvent(event, target) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(wopts.debounce, func() {
				select {
				case rebuildChan <- struct{}{}:
				default:
				}
			})

		case <-rebuildChan:
			fmt.Fprintf(w, "\n[%s] Change detected, rebuilding...\n", time.Now().Format("15:04:05"))
			rebuild(ctx, w, opts, wopts)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "Watch error: %v\n", err)

		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			fmt.Fprintln(w, "\nStopping watch...")
			return nil
		}
	}
}

// isConfigEvent reports whether event writes or recreates the watched file.
func isConfigEvent(event fsnotify.Event, target string) bool {
	if filepath.Clean(event.Name) != target {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

// rebuild loads, builds and checks the configuration, reporting to w.
func rebuild(ctx context.Context, w io.Writer, opts *rootOptions, wopts watchOptions) bool {
	cfg, err := opts.loadConfig()
	if err != nil {
		fmt.Fprintf(w, "Config error: %v\n", err)
		return false
	}
	result := buildTemplate(ctx, cfg, opts)
	if !result.Success {
		for _, e := range result.Errors {
			fmt.Fprintf(w, "Build error: %s\n", e)
		}
		return false
	}

	for _, issue := range validation.Check(result.Template) {
		fmt.Fprintf(w, "%s: %s\n", issue.Level, issue)
	}

	data, err := render(result.Template, wopts.outputFormat)
	if err != nil {
		fmt.Fprintf(w, "Output error: %v\n", err)
		return false
	}
	if wopts.outputFile == "" {
		fmt.Fprintf(w, "Build successful: %d resources (%s)\n", len(result.Resources), cfg.Variant)
		return true
	}
	if err := os.WriteFile(wopts.outputFile, data, 0o644); err != nil {
		fmt.Fprintf(w, "Failed to write output: %v\n", err)
		return false
	}
	fmt.Fprintf(w, "Build successful, wrote %s\n", wopts.outputFile)
	return true
}
