package command

import (
	"context"
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/lipgloss/v2/table"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
)

func StoresCommandBuilder() *cli.Command {
	return &cli.Command{
		Name:      "stores",
		Usage:     "list cache stores with entry counts and sizes",
		UsageText: "offcached stores",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt, err := setup(ctx, cmd, false)
			if err != nil {
				return err
			}
			defer rt.close(context.Background())

			names, err := rt.reg.Storage().Keys(ctx)
			if err != nil {
				return err
			}
			active := ""
			if a := rt.reg.Active(); a != nil {
				active = a.Version()
			}

			var rows [][]string
			for _, name := range names {
				st, err := rt.reg.Storage().Open(ctx, name)
				if err != nil {
					return err
				}
				stat, err := st.Stat(ctx)
				if err != nil {
					return err
				}
				updated := "-"
				if !stat.Newest.IsZero() {
					updated = humanize.Time(stat.Newest)
				}
				mark := ""
				if name == active {
					mark = "*"
				}
				rows = append(rows, []string{
					name, strconv.Itoa(stat.Entries), humanize.Bytes(uint64(stat.Bytes)), updated, mark,
				})
			}

			cell := lipgloss.NewStyle().Align(lipgloss.Left)
			t := table.New().
				BorderTop(false).
				BorderBottom(false).
				BorderLeft(false).
				BorderRight(false).
				Border(lipgloss.HiddenBorder()).
				StyleFunc(func(row, col int) lipgloss.Style {
					if col > 0 {
						return cell.PaddingLeft(1)
					}
					return cell
				}).
				Headers("STORE", "ENTRIES", "SIZE", "UPDATED", "ACTIVE").
				BorderHeader(false).
				Rows(rows...)
			_, err = fmt.Fprintln(out(cmd), t)
			return err
		},
	}
}

func UnregisterCommandBuilder() *cli.Command {
	return &cli.Command{
		Name:      "unregister",
		Usage:     "delete every store of the upstream scope and forget the active version",
		UsageText: "offcached unregister",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt, err := setup(ctx, cmd, false)
			if err != nil {
				return err
			}
			defer rt.close(context.Background())

			if err := rt.reg.Unregister(ctx); err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "unregistered %s\n", rt.reg.Scope())
			return nil
		},
	}
}
