package command

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
)

func PrecacheCommandBuilder() *cli.Command {
	return &cli.Command{
		Name:      "precache",
		Usage:     "install and activate the manifest, then exit",
		UsageText: "offcached precache",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt, err := setup(ctx, cmd, true)
			if err != nil {
				return err
			}
			defer rt.close(context.Background())

			m, err := rt.cfg.ManifestValue()
			if err != nil {
				return err
			}
			w, err := rt.reg.Register(ctx, m)
			if err != nil {
				return err
			}
			st, err := rt.reg.Storage().Open(ctx, w.Version())
			if err != nil {
				return err
			}
			stat, err := st.Stat(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "%s %s: %d assets, %s\n",
				w.Version(), w.State(), stat.Entries, humanize.Bytes(uint64(stat.Bytes)))
			return nil
		},
	}
}

func out(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}
