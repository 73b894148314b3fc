// Command cora runs the Rayied support service: an HTTP Q&A and
// ticket classification API over a locally indexed knowledge base.
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/rayied/cora/pkg/config"
	"github.com/rayied/cora/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP API server."`
	Index   IndexCmd   `cmd:"" help:"Index the knowledge base into the vector store."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFormat string `help:"Log format (text or json)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("cora version %s\n", version)
	return nil
}

// loadConfig resolves configuration with CLI logging flags winning
// over file and environment.
func loadConfig(cli *CLI) (*config.Config, func() error, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, nil, err
	}

	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Logging.Format = cli.LogFormat
	}
	if cli.LogFile != "" {
		cfg.Logging.File = cli.LogFile
	}

	closer, err := logger.Setup(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return nil, nil, err
	}

	return cfg, closer, nil
}

func main() {
	var cli CLI

	ctx := kong.Parse(&cli,
		kong.Name("cora"),
		kong.Description("Rayied customer support Q&A and ticket classification service."),
		kong.UsageOnError(),
	)

	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
