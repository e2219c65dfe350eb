package main

import (
	"fmt"
	"io"
	"os"

	"github.com/aristath/layerwise/internal/config"
	"github.com/aristath/layerwise/internal/di"
	"github.com/aristath/layerwise/pkg/logger"
	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app carries state shared by all subcommands.
type app struct {
	out      io.Writer
	errOut   io.Writer
	dataDir  string
	logLevel string
	cfg      *config.Config
	log      zerolog.Logger
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "layerwise",
		Short: "Layered portfolio allocation engine",
		Long: `Layerwise keeps monthly saving plans and one-time investments aligned with a
layered target allocation.

It provides tools for:
  - Assessing saving plans against an allocation profile
  - Managing the instrument knowledge base
  - Listing the available allocation profiles

Configuration is read from the environment (and a .env file). Flags override it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "directory of the knowledge base database (default $LAYERWISE_DATA_DIR)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "log level written to stderr")

	root.AddCommand(
		newAssessCmd(a),
		newKBCmd(a),
		newProfilesCmd(a),
		newVersionCmd(a),
	)
	return root
}

func (a *app) load() error {
	if a.dataDir != "" {
		if err := os.Setenv("LAYERWISE_DATA_DIR", a.dataDir); err != nil {
			return err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	a.cfg = cfg
	a.log = logger.New(logger.Config{Level: a.logLevel, Pretty: true, Output: a.errOut})
	return nil
}

func (a *app) wire() (*di.Container, *di.JobInstances, error) {
	container, jobs, err := di.Wire(a.cfg, a.log)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize: %w", err)
	}
	return container, jobs, nil
}

// printMarkdown renders md for the terminal. With plain set the Markdown
// source is written as is.
func (a *app) printMarkdown(md string, plain bool) error {
	if plain {
		_, err := io.WriteString(a.out, md)
		return err
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(120),
	)
	if err != nil {
		return fmt.Errorf("create markdown renderer: %w", err)
	}
	rendered, err := r.Render(md)
	if err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}
	_, err = io.WriteString(a.out, rendered)
	return err
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			version := os.Getenv("VERSION")
			if version == "" {
				version = "dev"
			}
			fmt.Fprintln(a.out, "layerwise", version)
			return nil
		},
	}
}
