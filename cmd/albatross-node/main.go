// Package main is the albatross-node entrypoint: it wires Config into a
// chain.Service and a sync.Scheduler and drives the scheduler's Tick
// loop. Transport, peer discovery and RPC surfaces are out of scope
// (spec.md §1 Non-goals); this binary only proves the wiring compiles
// and runs against whatever PeerClient implementation is supplied.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	runtimeDebug "runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"github.com/albatross-labs/albatross-core/chain"
	"github.com/albatross-labs/albatross-core/chain/store"
	"github.com/albatross-labs/albatross-core/crypto"
	albasync "github.com/albatross-labs/albatross-core/sync"
)

var (
	dataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Directory to store chain data in.",
		Value: "./albatross-data",
	}
	verbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (trace, debug, info, warn, error).",
		Value: "info",
	}
	logFormatFlag = &cli.StringFlag{
		Name:  "log-format",
		Usage: "Log format: text or json.",
		Value: "text",
	}
	tickIntervalFlag = &cli.DurationFlag{
		Name:  "tick-interval",
		Usage: "Interval between sync scheduler ticks.",
		Value: 2 * time.Second,
	}
)

func main() {
	app := &cli.App{
		Name:    "albatross-node",
		Usage:   "runs the block-acceptance and history-synchronization core of an albatross node",
		Flags:   []cli.Flag{dataDirFlag, verbosityFlag, logFormatFlag, tickIntervalFlag},
		Action:  run,
		Version: "0.1.0",
	}

	log := logrus.WithField("prefix", "main")

	defer func() {
		if x := recover(); x != nil {
			log.Errorf("Runtime panic: %v\n%v", x, string(runtimeDebug.Stack()))
			panic(x)
		}
	}()

	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	if err := configureLogging(ctx); err != nil {
		return err
	}
	runtime.GOMAXPROCS(runtime.NumCPU())

	st, err := store.Open(ctx.String(dataDirFlag.Name))
	if err != nil {
		return fmt.Errorf("opening chain store: %w", err)
	}
	defer st.Close()

	policy := chain.DefaultPolicy()
	svc := chain.NewService(chain.Config{
		Policy:     policy,
		Store:      st,
		Validators: noopValidatorProvider{},
		Executor:   noopStateExecutor{},
		Seed:       crypto.ECVRFSeedVerifier{},
		Agg:        crypto.BLSTAggregateVerifier{},
		Sig:        crypto.BLSTSingleVerifier{},
	})

	scheduler := albasync.NewScheduler(svc, noopHistoryProofVerifier{})

	interval := ctx.Duration(tickIntervalFlag.Name)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := logrus.WithField("prefix", "main")
	log.WithField("datadir", ctx.String(dataDirFlag.Name)).Info("albatross-node started")

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		select {
		case <-ticker.C:
			if err := scheduler.Tick(runCtx); err != nil && err != albasync.ErrNoWork {
				log.WithError(err).Warn("sync tick failed")
			}
		case <-runCtx.Done():
			return nil
		}
	}
}

func configureLogging(ctx *cli.Context) error {
	switch ctx.String(logFormatFlag.Name) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FullTimestamp:   true,
		})
	default:
		return fmt.Errorf("unknown log format %s", ctx.String(logFormatFlag.Name))
	}

	level, err := logrus.ParseLevel(ctx.String(verbosityFlag.Name))
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	return nil
}

// noopValidatorProvider, noopStateExecutor and noopHistoryProofVerifier
// are placeholder collaborators for a standalone binary run: election,
// state transition and history-tree construction are all out of scope
// (spec.md §1 Non-goals) and left to be supplied by an embedding
// application.
type noopValidatorProvider struct{}

func (noopValidatorProvider) ActiveSet(parent *chain.Block) (*chain.ValidatorSet, error) {
	return &chain.ValidatorSet{}, nil
}

type noopStateExecutor struct{}

func (noopStateExecutor) Execute(parent, b *chain.Block) (chain.Hash, chain.Hash, error) {
	return b.Header.StateRoot, b.Header.HistoryRoot, nil
}

type noopHistoryProofVerifier struct{}

func (noopHistoryProofVerifier) VerifyHistoryProof(macroBlock *chain.Block, proof []byte) error {
	return nil
}
