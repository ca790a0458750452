package cmd

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/gwyntel/splintertree/internal/config"
)

func agentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List the configured agent roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			printAgentTable(cfg.Agents)
			return nil
		},
	}
}

func printAgentTable(specs []config.AgentSpec) {
	header := []string{"NAME", "PROVIDER", "MODEL", "TRIGGERS", "VISION", "DEFAULT"}
	rows := make([][]string, 0, len(specs))
	for _, s := range specs {
		name := s.Name
		if s.Nickname != "" {
			name += " (" + s.Nickname + ")"
		}
		rows = append(rows, []string{
			name,
			s.Provider,
			s.Model,
			strings.Join(s.TriggerWords, ", "),
			yesNo(s.SupportsVision),
			yesNo(s.Default),
		})
	}

	// Column widths by display width, so wide glyphs in persona names
	// do not break alignment.
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	printRow(header, widths)
	for _, row := range rows {
		printRow(row, widths)
	}
}

func printRow(cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = runewidth.FillRight(cell, widths[i])
	}
	fmt.Println(strings.TrimRight(strings.Join(parts, "  "), " "))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
