package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aristath/layerwise/internal/di"
	"github.com/aristath/layerwise/internal/modules/knowledgebase"
	"github.com/spf13/cobra"
)

var errKBDisabled = errors.New("knowledge base is disabled (KB_ENABLED=false)")

func newKBCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Manage the instrument knowledge base",
		Long: `Manage the instrument knowledge base stored in the data directory.

Subcommands:
  import  - Import records from a YAML file
  list    - List stored records
  verify  - Check the database and every stored record

Examples:
  layerwise kb import records.yaml
  layerwise kb list --status COMPLETE
  layerwise kb verify`,
	}
	cmd.AddCommand(
		newKBImportCmd(a),
		newKBListCmd(a),
		newKBVerifyCmd(a),
	)
	return cmd
}

// withKB wires the container and fails when the knowledge base is off.
func (a *app) withKB(fn func(c *di.Container, jobs *di.JobInstances) error) error {
	container, jobs, err := a.wire()
	if err != nil {
		return err
	}
	defer container.Close()
	if container.RecordRepo == nil {
		return errKBDisabled
	}
	return fn(container, jobs)
}

func newKBImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import records from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := knowledgebase.LoadRecordsFile(args[0])
			if err != nil {
				return err
			}
			return a.withKB(func(c *di.Container, _ *di.JobInstances) error {
				if err := c.RecordRepo.PutAll(records); err != nil {
					return fmt.Errorf("import records: %w", err)
				}
				fmt.Fprintf(a.out, "Imported %d records\n", len(records))
				return nil
			})
		},
	}
}

func newKBListCmd(a *app) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withKB(func(c *di.Container, _ *di.JobInstances) error {
				records, err := c.RecordRepo.List(knowledgebase.Status(status))
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Fprintln(a.out, "No records")
					return nil
				}
				for _, r := range records {
					fmt.Fprintf(a.out, "%-12s  %-9s  L%d  %s\n", r.ISIN, r.Status, r.Layer, r.Name)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "only list records with this status")
	return cmd
}

func newKBVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the database and every stored record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withKB(func(c *di.Container, jobs *di.JobInstances) error {
				if jobs.KBHealthCheck == nil {
					return errors.New("knowledge base health check is not scheduled (KB_HEALTHCHECK_SCHEDULE is empty)")
				}
				runErr := c.Scheduler.RunNow(jobs.KBHealthCheck)
				report := jobs.KBHealthCheck.LastReport()
				if report != nil && report.Counts != nil {
					statuses := make([]string, 0, len(report.Counts))
					for status := range report.Counts {
						statuses = append(statuses, string(status))
					}
					sort.Strings(statuses)
					for _, status := range statuses {
						fmt.Fprintf(a.out, "%-9s %d\n", status, report.Counts[knowledgebase.Status(status)])
					}
				}
				if runErr != nil {
					if report != nil && len(report.BrokenISINs) > 0 {
						fmt.Fprintln(a.out, "Broken:", strings.Join(report.BrokenISINs, ", "))
					}
					return runErr
				}
				fmt.Fprintln(a.out, "Knowledge base OK")
				return nil
			})
		},
	}
}
