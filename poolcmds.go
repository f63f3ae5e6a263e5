package main

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/urfave/cli/v3"

	"github.com/TxnLab/reti-core/internal/lib/algo"
	"github.com/TxnLab/reti-core/internal/lib/chain"
	"github.com/TxnLab/reti-core/internal/lib/misc"
	"github.com/TxnLab/reti-core/internal/lib/reti"
)

func GetPoolCmdOpts() *cli.Command {
	return &cli.Command{
		Name:    "pool",
		Aliases: []string{"p"},
		Usage:   "Add/Configure staking pools for this node",
		Before:  checkConfigured,
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"l"},
				Usage:   "List pools on this node",
				Action:  PoolsList,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Show ALL pools for this validator not just for this node",
						Value: false,
					},
				},
			},
			{
				Name:   "ledger",
				Usage:  "List detailed ledger for a specific pool",
				Action: PoolLedger,
				Flags: []cli.Flag{
					&cli.UintFlag{
						Name:     "pool",
						Usage:    "Pool ID (the number in 'pool list')",
						Value:    1,
						Required: true,
					},
				},
			},
			{
				Name:     "add",
				Aliases:  []string{"a"},
				Usage:    "Add a new staking pool to this node",
				Category: "pool",
				Action:   PoolAdd,
			},
			{
				Name:  "payout",
				Usage: "Try to force a manual epoch update (payout).  Normally happens automatically as part of daemon operations",
				Flags: []cli.Flag{
					&cli.UintFlag{
						Name:     "pool",
						Usage:    "Pool ID (the number in 'pool list')",
						Value:    1,
						Required: true,
					},
				},
				Action: PayoutPool,
			},
			{
				Name:     "stake",
				Usage:    "Mostly for testing - adds stake to this validator from a local account",
				Category: "pool",
				Action:   StakeAdd,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "from",
						Usage:    "The account to send stake 'from' - the staker account.",
						Required: true,
					},
					&cli.UintFlag{
						Name:     "amount",
						Usage:    "The amount of whole algo to stake",
						Required: true,
					},
				},
			},
			{
				Name:     "unstake",
				Usage:    "Removes stake from a pool (0 means everything)",
				Category: "pool",
				Action:   StakeRemove,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "from",
						Usage:    "The staker account to remove stake for",
						Required: true,
					},
					&cli.UintFlag{
						Name:  "amount",
						Usage: "The amount of whole algo to unstake (0 = all)",
						Value: 0,
					},
					&cli.UintFlag{
						Name:     "pool",
						Usage:    "Pool ID (the number in 'pool list')",
						Value:    1,
						Required: true,
					},
				},
			},
			{
				Name:   "claim",
				Usage:  "Claims any accrued reward-token balance for a staker without unstaking",
				Action: ClaimTokens,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "from",
						Usage:    "The staker account claiming its tokens",
						Required: true,
					},
					&cli.UintFlag{
						Name:     "pool",
						Usage:    "Pool ID (the number in 'pool list')",
						Value:    1,
						Required: true,
					},
				},
			},
			{
				Name:   "online",
				Usage:  "Generate participation key material and take a pool's account online",
				Action: PoolGoOnline,
				Flags: []cli.Flag{
					&cli.UintFlag{
						Name:     "pool",
						Usage:    "Pool ID (the number in 'pool list')",
						Value:    1,
						Required: true,
					},
					&cli.UintFlag{
						Name:  "first",
						Usage: "First valid round for participation keys",
						Value: 1,
					},
					&cli.UintFlag{
						Name:  "last",
						Usage: "Last valid round for participation keys",
						Value: 3_000_000,
					},
				},
			},
		},
	}
}

// poolAppID maps a 1-based pool number for our validator to its app id.
func poolAppID(tx *chain.Txn, info *NodeInfo, poolID uint64) (uint64, error) {
	return App.protocol.Registry().GetPoolAppID(tx, info.ValidatorID, poolID)
}

func PoolsList(ctx context.Context, command *cli.Command) error {
	info, err := LoadNodeInfo()
	if err != nil {
		return fmt.Errorf("validator not configured: %w", err)
	}

	var (
		state        reti.ValidatorCurState
		pools        []reti.PoolInfo
		rewardAvails []uint64
	)
	err = App.protocol.Env().View(func(tx *chain.Txn) error {
		var err error
		state, err = App.protocol.Registry().GetValidatorState(tx, info.ValidatorID)
		if err != nil {
			return err
		}
		pools, err = App.protocol.Registry().GetPools(tx, info.ValidatorID)
		if err != nil {
			return err
		}
		for _, p := range pools {
			pool, err := App.protocol.Pool(tx, p.PoolAppID)
			if err != nil {
				return err
			}
			rewardAvails = append(rewardAvails, pool.AvailableRewards(tx))
		}
		return nil
	})
	if err != nil {
		return err
	}

	var totalRewards uint64
	out := new(strings.Builder)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Pool (*=Local)\tPool App ID\tTotal Stakers\tTotal Staked\tReward Avail\t")
	for i, pool := range pools {
		var isLocal string
		if slices.Contains(info.LocalPools, pool.PoolAppID) {
			isLocal = " (*)"
		} else if !command.Bool("all") {
			continue
		}
		totalRewards += rewardAvails[i]
		fmt.Fprintf(tw, "%d%s\t%d\t%d\t%s\t%s\t\n", i+1, isLocal, pool.PoolAppID, pool.TotalStakers,
			algo.FormattedAlgoAmount(pool.TotalAlgoStaked), algo.FormattedAlgoAmount(rewardAvails[i]))
	}
	fmt.Fprintf(tw, "TOTAL\t\t%d\t%s\t%s\t\n", state.TotalStakers, algo.FormattedAlgoAmount(state.TotalAlgoStaked),
		algo.FormattedAlgoAmount(totalRewards))

	tw.Flush()
	fmt.Print(out.String())
	return nil
}

func PoolLedger(ctx context.Context, command *cli.Command) error {
	info, err := LoadNodeInfo()
	if err != nil {
		return fmt.Errorf("validator not configured: %w", err)
	}
	poolID := command.Uint("pool")

	var (
		config      reti.ValidatorConfig
		ledger      []reti.StakedInfo
		rewardAvail uint64
		lastPayout  uint64
	)
	err = App.protocol.Env().View(func(tx *chain.Txn) error {
		var err error
		config, err = App.protocol.Registry().GetValidatorConfig(tx, info.ValidatorID)
		if err != nil {
			return err
		}
		appID, err := poolAppID(tx, info, poolID)
		if err != nil {
			return err
		}
		pool, err := App.protocol.Pool(tx, appID)
		if err != nil {
			return err
		}
		ledger, err = pool.Ledger(tx)
		if err != nil {
			return err
		}
		rewardAvail = pool.AvailableRewards(tx)
		_, lastPayout = pool.EpochCounters(tx)
		return nil
	})
	if err != nil {
		return err
	}

	var (
		nextPayTime   time.Time
		epochDuration = time.Duration(config.PayoutEveryXMins) * time.Minute
	)
	if lastPayout != 0 {
		nextPayTime = time.Unix(int64(lastPayout), 0).Add(epochDuration)
	} else {
		nextPayTime = time.Now()
	}
	pctTimeInEpoch := func(stakerEntryTime uint64) int {
		entryTime := time.Unix(int64(stakerEntryTime), 0)
		timeInEpoch := nextPayTime.Sub(entryTime).Seconds() / epochDuration.Seconds() * 100
		if timeInEpoch < 0 {
			// they're past the epoch because of the entry delay
			timeInEpoch = 0
		}
		if timeInEpoch > 100 {
			timeInEpoch = 100
		}
		return int(timeInEpoch)
	}

	out := new(strings.Builder)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Account\tStaked\tTotal Rewarded\tRwd Tokens\tPct\tEntry Time\t")
	for _, stakerData := range ledger {
		if stakerData.Account == types.ZeroAddress {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t\n", stakerData.Account.String(), algo.FormattedAlgoAmount(stakerData.Balance), algo.FormattedAlgoAmount(stakerData.TotalRewarded),
			stakerData.RewardTokenBalance, pctTimeInEpoch(stakerData.EntryTime), time.Unix(int64(stakerData.EntryTime), 0).UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(tw, "Pool Reward Avail: %s\t\n", algo.FormattedAlgoAmount(rewardAvail))
	tw.Flush()
	fmt.Print(out.String())
	return nil
}

func PoolAdd(ctx context.Context, command *cli.Command) error {
	info, err := LoadNodeInfo()
	if err != nil {
		return fmt.Errorf("validator not configured: %w", err)
	}
	owner, err := types.DecodeAddress(info.Owner)
	if err != nil {
		return err
	}

	var key reti.ValidatorPoolKey
	err = App.protocol.Env().Execute(owner, func(tx *chain.Txn) error {
		registry := App.protocol.Registry()
		mbrs := registry.GetMbrAmounts(tx)
		key, err = registry.AddPool(tx, chain.Payment{From: owner, Amount: mbrs.AddPoolMbr}, info.ValidatorID, info.NodeNum)
		if err != nil {
			return err
		}
		pool, err := App.protocol.Pool(tx, key.PoolAppID)
		if err != nil {
			return err
		}
		return pool.InitStorage(tx, chain.Payment{From: owner, Amount: mbrs.PoolInitMbr})
	})
	if err != nil {
		return err
	}
	slog.Info("added new pool", "key", key.String())
	info.LocalPools = append(info.LocalPools, key.PoolAppID)
	return SaveNodeInfo(info)
}

func StakeAdd(ctx context.Context, command *cli.Command) error {
	info, err := LoadNodeInfo()
	if err != nil {
		return fmt.Errorf("validator not configured: %w", err)
	}
	stakerAddr, err := types.DecodeAddress(command.String("from"))
	if err != nil {
		return err
	}
	amount := command.Uint("amount") * 1e6

	var key reti.ValidatorPoolKey
	err = App.protocol.Env().Execute(stakerAddr, func(tx *chain.Txn) error {
		var err error
		key, err = App.protocol.Registry().AddStake(tx, chain.Payment{From: stakerAddr, Amount: amount}, info.ValidatorID)
		return err
	})
	if err != nil {
		return err
	}
	misc.Infof(App.logger, "stake added into pool:%d", key.PoolID)
	return nil
}

func StakeRemove(ctx context.Context, command *cli.Command) error {
	info, err := LoadNodeInfo()
	if err != nil {
		return fmt.Errorf("validator not configured: %w", err)
	}
	stakerAddr, err := types.DecodeAddress(command.String("from"))
	if err != nil {
		return err
	}
	amount := command.Uint("amount") * 1e6
	poolID := command.Uint("pool")

	return App.protocol.Env().Execute(stakerAddr, func(tx *chain.Txn) error {
		appID, err := poolAppID(tx, info, poolID)
		if err != nil {
			return err
		}
		pool, err := App.protocol.Pool(tx, appID)
		if err != nil {
			return err
		}
		return pool.RemoveStake(tx, stakerAddr, amount)
	})
}

func ClaimTokens(ctx context.Context, command *cli.Command) error {
	info, err := LoadNodeInfo()
	if err != nil {
		return fmt.Errorf("validator not configured: %w", err)
	}
	stakerAddr, err := types.DecodeAddress(command.String("from"))
	if err != nil {
		return err
	}
	poolID := command.Uint("pool")

	return App.protocol.Env().Execute(stakerAddr, func(tx *chain.Txn) error {
		appID, err := poolAppID(tx, info, poolID)
		if err != nil {
			return err
		}
		pool, err := App.protocol.Pool(tx, appID)
		if err != nil {
			return err
		}
		return pool.ClaimTokens(tx)
	})
}

func PoolGoOnline(ctx context.Context, command *cli.Command) error {
	info, err := LoadNodeInfo()
	if err != nil {
		return fmt.Errorf("validator not configured: %w", err)
	}
	manager, err := types.DecodeAddress(info.Manager)
	if err != nil {
		return err
	}
	poolID := command.Uint("pool")
	first := command.Uint("first")
	last := command.Uint("last")

	return App.protocol.Env().Execute(manager, func(tx *chain.Txn) error {
		appID, err := poolAppID(tx, info, poolID)
		if err != nil {
			return err
		}
		pool, err := App.protocol.Pool(tx, appID)
		if err != nil {
			return err
		}
		partKey, err := algo.GenerateParticipationKey(pool.Address(), first, last)
		if err != nil {
			return err
		}
		return pool.GoOnline(tx, partKey.VoteKey, partKey.SelectionKey, partKey.StateProofKey,
			partKey.VoteFirstValid, partKey.VoteLastValid, partKey.VoteKeyDilution)
	})
}

func PayoutPool(ctx context.Context, command *cli.Command) error {
	info, err := LoadNodeInfo()
	if err != nil {
		return fmt.Errorf("validator not configured: %w", err)
	}
	manager, err := types.DecodeAddress(info.Manager)
	if err != nil {
		return err
	}
	poolID := command.Uint("pool")

	return App.protocol.Env().Execute(manager, func(tx *chain.Txn) error {
		appID, err := poolAppID(tx, info, poolID)
		if err != nil {
			return err
		}
		pool, err := App.protocol.Pool(tx, appID)
		if err != nil {
			return err
		}
		result, err := pool.EpochBalanceUpdate(tx)
		if err != nil {
			return err
		}
		misc.Infof(App.logger, "epoch %d paid out: %s algo credited, %d tokens, %s commission",
			result.EpochNumber, algo.FormattedAlgoAmount(result.AlgoCredited),
			result.TokensCredited, algo.FormattedAlgoAmount(result.CommissionPaid))
		return nil
	})
}
