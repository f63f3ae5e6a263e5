package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/TxnLab/reti-core/internal/lib/misc"
)

func GetDaemonCmdOpts() *cli.Command {
	return &cli.Command{
		Name:    "daemon",
		Aliases: []string{"d"},
		Usage:   "Run the application as a daemon",
		Before:  checkConfigured, // make sure validator is already configured
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:    "port",
				Usage:   "Port to serve the query api on",
				Sources: cli.EnvVars("RETI_APIPORT"),
				Value:   6260,
			},
		},
		Action: runAsDaemon,
	}
}

func runAsDaemon(ctx context.Context, command *cli.Command) error {
	var wg sync.WaitGroup

	daemon, err := newDaemon(command.Uint("port"))
	if err != nil {
		return err
	}

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop the server.
	errc := make(chan error)

	// Setup interrupt handler. This optional step configures the process so
	// that SIGINT and SIGTERM signals cause the services to stop gracefully.
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	ctx, cancel := context.WithCancel(context.Background())

	daemon.start(ctx, &wg)

	misc.Infof(App.logger, "exiting (%v)", <-errc) // wait for termination signal

	// Send cancellation signal to the goroutines.
	cancel()
	misc.Infof(App.logger, "waiting on backround tasks..")
	wg.Wait()

	misc.Infof(App.logger, "exited")
	return nil
}
