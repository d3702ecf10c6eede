// Command toolhub connects to the MCP servers of an agent, merges their tools
// with the native tools and lets you browse and call the result.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()
	// Ctrl-C cancels one phase at a time, see interruptible. Holding the
	// signal here keeps it from killing the process between phases.
	held := make(chan os.Signal, 1)
	signal.Notify(held, os.Interrupt)
	defer signal.Stop(held)

	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string) int {
	opts := &Options{}
	cli = &app{ctx: ctx, opts: opts}
	defer cli.close()

	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		if cmd == nil {
			return nil
		}
		if err := cli.setupLogging(); err != nil {
			return err
		}
		if _, chat := cmd.(*ChatCmd); !chat {
			ctx, stop := interruptible(cli.ctx)
			defer stop()
			cli.ctx = ctx
		}
		return cmd.Execute(args)
	}
	if _, err := parser.ParseArgs(args); err != nil {
		if fe, ok := err.(*flags.Error); ok && fe.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, fe.Message)
			return 0
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}
