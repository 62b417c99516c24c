package command

import (
	"context"
	"sort"

	"github.com/urfave/cli/v3"

	"github.com/unkn0wn-root/offcache/internal/version"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "path to the offcached YAML config",
	Sources: cli.NewValueSourceChain(
		cli.EnvVar("OFFCACHE_CONFIG"),
	),
}

var logLevelFlag = &cli.StringFlag{
	Name:  "log-level",
	Usage: "override log.level from the config (debug, info, warn, error)",
	Validator: func(v string) error {
		return levelValidator(v)
	},
}

func InitApp(_ context.Context) *cli.Command {
	app := &cli.Command{
		Name:    "offcached",
		Usage:   "offline-first caching proxy",
		Version: version.Version,
		Flags:   []cli.Flag{configFlag, logLevelFlag},
	}

	app.Commands = append(app.Commands,
		ServeCommandBuilder(),
		PrecacheCommandBuilder(),
		StoresCommandBuilder(),
		UnregisterCommandBuilder(),
	)

	// Make sure flags are sorted for the --help text.
	for _, cmd := range app.Commands {
		sort.Slice(cmd.Flags, func(i, j int) bool {
			return cmd.Flags[i].Names()[0] < cmd.Flags[j].Names()[0]
		})
	}
	return app
}
