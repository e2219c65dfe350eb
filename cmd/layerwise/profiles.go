package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aristath/layerwise/internal/config"
	"github.com/aristath/layerwise/internal/domain"
	"github.com/spf13/cobra"
)

func newProfilesCmd(a *app) *cobra.Command {
	var format string
	var plain bool
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List the allocation profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profiles, err := config.LoadProfiles(a.cfg.ProfilesFile)
			if err != nil {
				return err
			}
			switch strings.ToLower(format) {
			case "json":
				list := make([]config.Profile, 0, len(profiles))
				for _, key := range profiles.Keys() {
					list = append(list, profiles[key])
				}
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			case "markdown":
				return a.printMarkdown(profilesMarkdown(profiles, a.cfg.Profile), plain)
			default:
				return fmt.Errorf("unknown format %q", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "output format: markdown or json")
	cmd.Flags().BoolVar(&plain, "plain", false, "print Markdown source instead of rendering it")
	return cmd
}

func profilesMarkdown(profiles config.Profiles, defaultKey string) string {
	var b strings.Builder
	b.WriteString("# Allocation Profiles\n\n")

	header := []string{"Profile"}
	align := []string{":---"}
	for _, layer := range domain.Layers {
		header = append(header, fmt.Sprintf("L%d", layer))
		align = append(align, "---:")
	}
	header = append(header, "Min. Plan", "Min. Rebalance", "Variance")
	align = append(align, "---:", "---:", "---:")
	fmt.Fprintf(&b, "| %s |\n|%s|\n", strings.Join(header, " | "), strings.Join(align, "|"))

	resolved, _ := profiles.Resolve(defaultKey)
	for _, key := range profiles.Keys() {
		p := profiles[key]
		name := p.DisplayName
		if key == resolved.Key {
			name = "**" + name + "** (default)"
		}
		row := []string{name}
		for _, layer := range domain.Layers {
			row = append(row, p.LayerTargets[layer].Shift(2).StringFixed(0)+"%")
		}
		row = append(row,
			p.MinimumSavingPlanSize.StringFixed(2),
			p.MinimumRebalance.StringFixed(2),
			p.AcceptableVariancePct.StringFixed(1)+"%",
		)
		fmt.Fprintf(&b, "| %s |\n", strings.Join(row, " | "))
	}

	b.WriteString("\n")
	for _, key := range profiles.Keys() {
		if d := profiles[key].Description; d != "" {
			fmt.Fprintf(&b, "- **%s**: %s\n", profiles[key].DisplayName, d)
		}
	}
	return b.String()
}
