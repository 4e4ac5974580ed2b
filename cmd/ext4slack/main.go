package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/diskfs/ext4slack"
)

var globalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "YAML configuration file",
		EnvVars: []string{ext4slack.ConfigFileEnvVar},
	},
	&cli.UintFlag{
		Name:  "block-size",
		Usage: "filesystem block size in bytes; 0 reads it from the superblock",
	},
	&cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "write the dumped bytes to this file instead of stdout",
	},
	&cli.BoolFlag{
		Name:  "exact",
		Usage: "require the mode to match exactly instead of as a substring",
	},
	&cli.BoolFlag{
		Name:  "strict",
		Usage: "fail with a non-zero exit code on an unknown mode",
	},
	&cli.StringFlag{
		Name:  "gdt-base",
		Usage: "block count the reserved GDT region is computed from: total-blocks or blocks-per-group",
	},
	&cli.BoolFlag{
		Name:  "decompress",
		Usage: "decompress gzip, zstd, xz, lz4 and lzma images before scanning",
		Value: true,
	},
	&cli.StringFlag{
		Name:  "temp-dir",
		Usage: "where decompressed images are staged",
	},
	&cli.StringFlag{
		Name:  "log-level",
		Usage: "panic, fatal, error, warn, info, debug or trace",
	},
	&cli.StringFlag{
		Name:  "log-format",
		Usage: "text or json",
	},
}

// loadConfig layers command line flags over LoadConfig
func loadConfig(ctx *cli.Context) (*ext4slack.Config, error) {
	c, err := ext4slack.LoadConfig(ctx.String("config"))
	if err != nil {
		return nil, err
	}
	if ctx.IsSet("block-size") {
		c.BlockSize = uint32(ctx.Uint("block-size"))
	}
	if ctx.IsSet("output") {
		c.Output = ctx.String("output")
	}
	if ctx.IsSet("exact") {
		c.ExactMode = ctx.Bool("exact")
	}
	if ctx.IsSet("strict") {
		c.Strict = ctx.Bool("strict")
	}
	if ctx.IsSet("gdt-base") {
		c.GDTBase = ctx.String("gdt-base")
	}
	if ctx.IsSet("decompress") {
		c.Decompress = ctx.Bool("decompress")
	}
	if ctx.IsSet("temp-dir") {
		c.TempDir = ctx.String("temp-dir")
	}
	if ctx.IsSet("log-level") {
		c.LogLevel = ctx.String("log-level")
	}
	if ctx.IsSet("log-format") {
		c.LogFormat = ctx.String("log-format")
	}
	if err := ext4slack.ConfigureLogging(c); err != nil {
		return nil, err
	}
	return c, nil
}

func scan(ctx *cli.Context) error {
	if ctx.NArg() > 2 {
		return cli.Exit(fmt.Sprintf("expected <image> <mode>, got %d arguments", ctx.NArg()), ext4slack.ExitError)
	}
	c, err := loadConfig(ctx)
	if err != nil {
		return cli.Exit(err, ext4slack.ExitError)
	}
	if v := ctx.Args().Get(0); v != "" {
		c.ImagePath = v
	}
	if v := ctx.Args().Get(1); v != "" {
		c.Mode = v
	}
	if c.ImagePath == "" && c.Mode == "" {
		return cli.ShowAppHelp(ctx)
	}

	err = ext4slack.Execute(c, os.Stdout)
	if code := ext4slack.ScanExitCode(os.Stdout, c, err); code != ext4slack.ExitOK {
		return cli.Exit(err, code)
	}
	return nil
}

// withImage opens the image named by the first argument for the report commands
func withImage(f func(c *ext4slack.Config, img *ext4slack.Image) (interface{}, error)) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		c, err := loadConfig(ctx)
		if err != nil {
			return cli.Exit(err, ext4slack.ExitError)
		}
		if v := ctx.Args().First(); v != "" {
			c.ImagePath = v
		}
		if c.ImagePath == "" {
			return cli.Exit("missing required argument: <image>", ext4slack.ExitError)
		}
		img, err := ext4slack.Open(c.ImagePath, ext4slack.WithDecompress(c.Decompress), ext4slack.WithTempDir(c.TempDir))
		if err != nil {
			return cli.Exit(err, ext4slack.ExitError)
		}
		defer img.Close()
		report, err := f(c, img)
		if err != nil {
			return cli.Exit(err, ext4slack.ExitError)
		}
		if err := ext4slack.WriteYAML(os.Stdout, report); err != nil {
			return cli.Exit(err, ext4slack.ExitError)
		}
		return nil
	}
}

func main() {
	app := cli.App{
		Name:      "ext4slack",
		Usage:     "find data hidden in the unused regions of an ext4 image",
		ArgsUsage: "<image> <osd2|superblock|reserved_gdt|fileslack|obso_faddr>",
		Description: "Dumps the raw bytes of one dead region of an ext4 image to stdout: " +
			"superblock slack, file slack, the reserved GDT blocks, or non-zero osd2 " +
			"and obso_faddr inode fields. Only block group 0 is scanned.",
		Flags:  globalFlags,
		Action: scan,
		Commands: []*cli.Command{{
			Name:      "inspect",
			Aliases:   []string{"info"},
			Usage:     "print the decoded superblock and inode table geometry as YAML",
			ArgsUsage: "<image>",
			Flags:     globalFlags,
			Action: withImage(func(c *ext4slack.Config, img *ext4slack.Image) (interface{}, error) {
				return ext4slack.Inspect(c, img)
			}),
		}, {
			Name:      "inodes",
			Usage:     "print the decoded group 0 inodes as YAML",
			ArgsUsage: "<image>",
			Flags:     globalFlags,
			Action: withImage(func(c *ext4slack.Config, img *ext4slack.Image) (interface{}, error) {
				return ext4slack.InspectInodes(c, img)
			}),
		}, {
			Name:  "schema",
			Usage: "print the on-disk layouts used for decoding as YAML",
			Action: func(ctx *cli.Context) error {
				return ext4slack.WriteYAML(os.Stdout, ext4slack.Schemas())
			},
		}},
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err)
		os.Exit(ext4slack.ExitError)
	}
}
