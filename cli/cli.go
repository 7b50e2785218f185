package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/byte4ever/plugin_publish/publish/config"
	"github.com/byte4ever/plugin_publish/publish/scaffold"
	"github.com/byte4ever/plugin_publish/publish/workflow"
)

const usageExamples = `  ztools create my-plugin
  ztools publish`

type rootOptions struct {
	configFile string
	verbose    bool
}

// NewRootCmd returns the ztools command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "ztools <command> [options]",
		Short:         "Create and publish ZTools plugins",
		Example:       usageExamples,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			configureLogger(cmd.ErrOrStderr(), opts.verbose)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().StringVar(
		&opts.configFile, "config", "",
		"settings file (default <work dir>/config.yaml)",
	)
	root.PersistentFlags().BoolVarP(
		&opts.verbose, "verbose", "v", false,
		"log debug output",
	)

	root.AddCommand(
		newCreateCmd(),
		newPublishCmd(opts),
	)

	return root
}

// Execute runs the command line and returns the process
// exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %s\n", err)

		return 1
	}

	return 0
}

func newCreateCmd() *cobra.Command {
	var (
		dir     string
		noGit   bool
		options scaffold.Options
	)

	cmd := &cobra.Command{
		Use:   "create <project-name>",
		Short: "Create a new plugin project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			options.PluginName = args[0]
			options.InitGit = !noGit

			root, err := scaffold.Create(cmd.Context(), dir, options)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created plugin project in %s\n", root)

			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "parent directory of the new project")
	cmd.Flags().StringVar(&options.Name, "name", "", "display name (defaults to the project name)")
	cmd.Flags().StringVar(&options.Description, "description", "", "plugin description")
	cmd.Flags().StringVar(&options.Author, "author", "", "plugin author")
	cmd.Flags().StringVar(&options.Version, "version", "", "initial version (default 1.0.0)")
	cmd.Flags().BoolVar(&noGit, "no-git", false, "skip git init")

	return cmd
}

func newPublishCmd(opts *rootOptions) *cobra.Command {
	var (
		dir    string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish the plugin to the central plugin repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}

			abs, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving %s: %w", dir, err)
			}

			ref, err := workflow.Run(cmd.Context(), workflow.Config{
				Dir:      abs,
				Settings: settings,
				DryRun:   dryRun,
				Out:      cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			switch {
			case ref == nil:
				fmt.Fprintf(out, "Dry run complete, clone left in %s\n", settings.CloneDir())
			case ref.Reused:
				fmt.Fprintf(out, "Pull request updated: %s\n", ref.URL)
			default:
				fmt.Fprintf(out, "Pull request created: %s\n", ref.URL)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "plugin project directory")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "replay locally without pushing or opening a pull request")

	return cmd
}

func configureLogger(w io.Writer, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})))
}
