package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/mklimuk/tagsensors/cmd/sensors/console"
	"github.com/mklimuk/tagsensors/config"
	"github.com/urfave/cli/v2"
)

var configCmd = cli.Command{
	Name:  "config",
	Usage: "inspect the tag configuration",
	Subcommands: cli.Commands{
		&configShowCmd,
		&configTagsCmd,
		&configDefaultCmd,
	},
}

var configShowCmd = cli.Command{
	Name: "show",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		return encode(cfg)
	},
}

var configTagsCmd = cli.Command{
	Name:  "tags",
	Usage: "list the numeric value of every configuration tag",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		w := tabwriter.NewWriter(os.Stdout, 24, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "TAG\tVALUE\n")
		for _, tag := range config.Tags {
			v, err := cfg.Get(tag)
			value := strconv.Itoa(int(v))
			if err != nil {
				value = console.Yellow("unset")
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\n", tag, value)
		}
		return w.Flush()
	},
}

var configDefaultCmd = cli.Command{
	Name:  "default",
	Usage: "print the default configuration",
	Action: func(c *cli.Context) error {
		raw, err := config.Default().Marshal()
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		console.Printf("%s", raw)
		return nil
	},
}
