// Command rvdbgd is the CLI/RPC front end for the RISC-V debug-bus target
// driver: a kong-parsed command line (grounded on arl-nestor's root
// cli.go) that either talks to a real scan-queue driver or, with
// -simulate, the in-process golden DM simulator, then exposes the
// framework-facing entry points over JSON-RPC (stdio or TCP).
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/sirupsen/logrus"

	"rvdbg/config"
	"rvdbg/hart"
	"rvdbg/internal/announce"
	"rvdbg/internal/logging"
	"rvdbg/scanqueue"
)

// CLI is the root command set, mirroring arl-nestor's CLI struct shape: one
// struct field per subcommand, a shared --config/--log-level pair applying
// to all of them.
type CLI struct {
	Serve ServeCmd `cmd:"" help:"Run the driver and expose it over JSON-RPC." default:"true"`

	Config   string `help:"Path to the driver's TOML configuration file." default:"rvdbgd.toml" type:"path"`
	LogLevel string `help:"Log level (trace, debug, info, warn, error)." default:"info"`
}

// ServeCmd starts the driver and its RPC surface, against either a real
// scan-queue driver or the golden DM simulator.
type ServeCmd struct {
	Simulate bool   `help:"Drive the in-process golden DM simulator instead of a real scan-queue implementation, for demoing/smoke-testing."`
	Addr     string `help:"TCP address to serve JSON-RPC on; empty means stdio." default:""`
	IRBits   int    `help:"JTAG IR length of the target TAP." default:"5"`
	Announce string `help:"Optional websocket address to push target-halted events to." default:""`
}

func (s *ServeCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	level, err := logrus.ParseLevel(cli.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cli.LogLevel, err)
	}
	logging.SetLevel(level)

	var driver scanqueue.Driver
	if s.Simulate {
		driver = scanqueue.NewSim(5, 16, hartTriggerCount)
	} else {
		return fmt.Errorf("no real scan-queue driver wired: rerun with -simulate, or integrate a JTAG adapter driver satisfying scanqueue.Driver")
	}

	session := hart.NewSession(driver, s.IRBits)

	if s.Announce != "" {
		srv := announce.New()
		if err := srv.ListenAndServe(s.Announce); err != nil {
			return fmt.Errorf("starting announce server: %w", err)
		}
		session.Announce = srv
	}

	if err := session.Examine(); err != nil {
		return fmt.Errorf("examine: %w", err)
	}
	session.Transport.WaitBound = cfg.WaitBound()

	if s.Addr != "" {
		return serveTCP(session, s.Addr)
	}
	serveStdio(session)
	return nil
}

// hartTriggerCount is the physical trigger pool size the golden DM
// simulator exposes; MaxHWBPs everywhere else in the driver.
const hartTriggerCount = 16

func main() {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("rvdbgd"),
		kong.Description("RISC-V debug-bus target driver daemon."),
		kong.UsageOnError(),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
