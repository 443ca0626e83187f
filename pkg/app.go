package pkg

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/urfave/cli"
	"golang.org/x/xerrors"

	"github.com/imagetool/imagetool/pkg/config"
	"github.com/imagetool/imagetool/pkg/log"
	"github.com/imagetool/imagetool/pkg/types"
	"github.com/imagetool/imagetool/pkg/utils"
)

func NewApp(version string) *cli.App {
	app := cli.NewApp()
	app.Name = "imagetool"
	app.Version = version
	app.Usage = "WebLogic container image builder"

	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "debug",
			Usage: "debug mode",
		},
		cli.BoolFlag{
			Name:  "quiet, q",
			Usage: "suppress progress bar and log output",
		},
		cli.StringFlag{
			Name:  "settings",
			Usage: "settings file (yaml or toml)",
			Value: utils.ConfigFile(),
		},
	}
	app.Before = func(c *cli.Context) error {
		switch {
		case c.GlobalBool("debug"):
			log.SetLevel(slog.LevelDebug)
		case c.GlobalBool("quiet"):
			log.SetLevel(slog.LevelError)
			utils.Quiet = true
		}
		return nil
	}

	catalogFlags := []cli.Flag{
		cli.StringFlag{
			Name:  "type",
			Usage: "release category: wls or fmw",
			Value: string(types.CategoryWLS),
		},
		cli.StringFlag{
			Name:  "user",
			Usage: "Oracle support user name",
		},
		cli.StringFlag{
			Name:  "password-env",
			Usage: "environment variable holding the Oracle support password",
			Value: "ARU_PASSWORD",
		},
	}

	app.Commands = []cli.Command{
		{
			Name:   "create",
			Usage:  "build a WebLogic image",
			Action: create,
			Flags:  append(createFlags(), catalogFlags...),
		},
		{
			Name:   "releases",
			Usage:  "list catalog releases",
			Action: releases,
			Flags:  catalogFlags,
		},
		{
			Name:   "patches",
			Usage:  "list the patches of a release",
			Action: patches,
			Flags: append([]cli.Flag{
				cli.StringFlag{
					Name:  "version",
					Usage: "product version, e.g. 12.2.1.3.0",
				},
			}, catalogFlags...),
		},
		{
			Name:   "download",
			Usage:  "download patches into the cache",
			Action: downloadPatches,
			Flags: append([]cli.Flag{
				cli.StringFlag{
					Name:  "version",
					Usage: "product version, e.g. 12.2.1.3.0",
				},
				cli.StringFlag{
					Name:  "patches",
					Usage: "comma separated bug numbers",
				},
				cli.BoolFlag{
					Name:  "latestPSU",
					Usage: "include the latest patch set update",
				},
				cli.BoolFlag{
					Name:  "force",
					Usage: "download even if the patches conflict",
				},
			}, catalogFlags...),
		},
		{
			Name:   "check-credentials",
			Usage:  "check Oracle support credentials",
			Action: checkCredentials,
			Flags:  catalogFlags,
		},
		{
			Name:  "settings",
			Usage: "manage the settings file",
			Subcommands: []cli.Command{
				{
					Name:   "init",
					Usage:  "write the effective settings to the settings file",
					Action: settingsInit,
				},
			},
		},
		{
			Name:  "cache",
			Usage: "inspect the download cache",
			Subcommands: []cli.Command{
				{
					Name:   "list",
					Usage:  "list cache entries",
					Action: cacheList,
				},
				{
					Name:      "add",
					Usage:     "record a file downloaded by other means",
					ArgsUsage: "bug release file",
					Action:    cacheAdd,
				},
			},
		},
	}

	return app
}

func settings(c *cli.Context) (config.Settings, error) {
	s, err := config.LoadFromEnv(c.GlobalString("settings"))
	if err != nil {
		return config.Settings{}, xerrors.Errorf("settings error: %w", err)
	}
	return s, nil
}

func settingsInit(c *cli.Context) error {
	path := c.GlobalString("settings")
	s, err := settings(c)
	if err != nil {
		return err
	}
	if err = config.Save(path, s); err != nil {
		return err
	}
	log.Info("Wrote settings", log.FilePath(path))
	return nil
}

func credentials(c *cli.Context) types.Credentials {
	return types.Credentials{
		Username: c.String("user"),
		Password: os.Getenv(c.String("password-env")),
	}
}

func category(c *cli.Context) (types.Category, error) {
	return types.NewCategory(c.String("type"))
}

// splitList splits a comma separated flag value, dropping blanks.
func splitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func appContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}
