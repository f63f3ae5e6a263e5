package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/TxnLab/reti-core/internal/lib/chain"
	"github.com/TxnLab/reti-core/internal/lib/misc"
	"github.com/TxnLab/reti-core/internal/lib/reti"
	"github.com/TxnLab/reti-core/internal/lib/store"
)

var logLevel = new(slog.LevelVar) // Info by default

func initApp() *RetiApp {
	log.SetFlags(0)
	var logger *slog.Logger
	if term.IsTerminal(int(os.Stdout.Fd())) {
		// Output is a tty - so we're being run as CLI vs as a daemon
		logger = slog.New(misc.NewMinimalHandler(os.Stdout,
			misc.MinimalHandlerOptions{SlogOpts: slog.HandlerOptions{Level: logLevel, AddSource: true}}))
	} else {
		// not on console - output as json, but change json key names to be
		// more compatible w/ what google logging expects
		opts := &slog.HandlerOptions{
			AddSource: true,
			Level:     logLevel,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.MessageKey {
					a.Key = "message"
				} else if a.Key == slog.LevelKey && len(groups) == 0 {
					a.Key = "severity"
				}
				return a
			},
		}
		logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	slog.SetDefault(logger)
	if os.Getenv("DEBUG") == "1" {
		logLevel.Set(slog.LevelDebug)
	}

	misc.LoadEnvSettings()

	// We initialize our wrapper instance first, so we can call its methods in
	// the 'Before' lambda func in initialization of cli Command instance.
	appConfig := &RetiApp{logger: logger}

	appConfig.cliCmd = &cli.Command{
		Name:    "réti core",
		Usage:   "Validator/pool management and epoch daemon for a local reti staking network",
		Version: getVersionInfo(),
		Before: func(ctx context.Context, cmd *cli.Command) error {
			return appConfig.initProtocol(ctx, cmd)
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "envfile",
				Usage:   "env file to load",
				Sources: cli.EnvVars("RETI_ENVFILE"),
				Aliases: []string{"e"},
			},
			&cli.StringFlag{
				Name:        "datadir",
				Usage:       "Directory for the network database.  Empty means a throwaway in-memory network",
				Sources:     cli.EnvVars("RETI_DATADIR"),
				Aliases:     []string{"d"},
				Destination: &appConfig.dataDir,
			},
			&cli.UintFlag{
				Name:        "validator",
				Usage:       "The Validator id for your validator.  Can be unset if defining for first time.",
				Sources:     cli.EnvVars("RETI_VALIDATORID"),
				Value:       0,
				Destination: &appConfig.retiValidatorID,
				OnlyOnce:    true,
			},
			&cli.UintFlag{
				Name:        "node",
				Usage:       "The node number (1+) this node represents in those configured for this validator",
				Sources:     cli.EnvVars("RETI_NODENUM"),
				Value:       1,
				Destination: &appConfig.retiNodeNum,
				OnlyOnce:    true,
			},
		},
		Commands: []*cli.Command{
			GetDaemonCmdOpts(),
			GetValidatorCmdOpts(),
			GetPoolCmdOpts(),
			GetAccountCmdOpts(),
		},
	}
	return appConfig
}

type RetiApp struct {
	cliCmd   *cli.Command
	logger   *slog.Logger
	kv       store.KV
	chainEnv *chain.Env
	protocol *reti.Protocol

	// just here for flag bootstrapping destination
	dataDir         string
	retiValidatorID uint64
	retiNodeNum     uint64
}

// initProtocol opens the network database and binds to the registry in it,
// bootstrapping one in a fresh database.
func (ac *RetiApp) initProtocol(ctx context.Context, cmd *cli.Command) error {
	if envfile := cmd.String("envfile"); envfile != "" {
		misc.Infof(ac.logger, "loading env file:%s", envfile)
		if err := godotenv.Load(envfile); err != nil {
			return err
		}
	}

	var (
		kv  store.KV
		err error
	)
	if ac.dataDir != "" {
		kv, err = store.OpenLevelDB(ac.dataDir)
		if err != nil {
			return fmt.Errorf("opening database in %s: %w", ac.dataDir, err)
		}
	} else {
		kv = store.NewMemory()
		misc.Warnf(ac.logger, "no -datadir set, using a throwaway in-memory network")
	}
	ac.kv = kv
	ac.chainEnv = chain.NewEnv(kv, ac.logger)

	protocol, err := reti.Load(ac.chainEnv, ac.logger)
	if errors.Is(err, reti.ErrNotBootstrapped) {
		protocol, err = reti.Bootstrap(ac.chainEnv, ac.logger)
		if err == nil {
			misc.Infof(ac.logger, "bootstrapped new registry, app id:%d", protocol.Registry().AppID())
		}
	}
	if err != nil {
		return err
	}
	ac.protocol = protocol
	return nil
}

func checkConfigured(ctx context.Context, command *cli.Command) error {
	if _, err := LoadNodeInfo(); err != nil {
		return errors.New("validator not configured")
	}
	return nil
}

// Version is replaced at build time during docker builds w/ 'release' version
// If not defined, we just return the git rev.
var Version string

func getVersionInfo() string {
	vcsRev := misc.GetVersionInfo()
	if Version != "" {
		return fmt.Sprintf("%s [%s]", Version, vcsRev)
	}
	return vcsRev
}
