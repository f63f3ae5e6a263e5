package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/manifoldco/promptui"
	"github.com/urfave/cli/v3"

	"github.com/TxnLab/reti-core/internal/lib/chain"
	"github.com/TxnLab/reti-core/internal/lib/misc"
	"github.com/TxnLab/reti-core/internal/lib/reti"
)

func GetValidatorCmdOpts() *cli.Command {
	return &cli.Command{
		Name:    "validator",
		Aliases: []string{"v"},
		Usage:   "Configure validator options",
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Initialize self as validator - creating or resetting configuration - should only be done ONCE, EVER !",
				Action: InitValidator,
			},
			{
				Name:   "info",
				Usage:  "Display info about the validator from the chain",
				Action: ValidatorInfo,
			},
			{
				Name:   "state",
				Usage:  "Display info about the validator's current state from the chain",
				Action: ValidatorState,
			},
			{
				Name:  "claim",
				Usage: "Claim an existing validator for this node, using an owner or manager address",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "account",
						Usage:    "Account (owner or manager) that claims this validator for this node",
						Required: true,
					},
					&cli.UintFlag{
						Name:     "id",
						Usage:    "Validator ID to claim (you must be owner or manager!)",
						Required: true,
					},
				},
				Action: ClaimValidator,
			},
		},
	}
}

func InitValidator(ctx context.Context, cmd *cli.Command) error {
	v, err := LoadNodeInfo()
	if err == nil {
		result, _ := yesNo("A validator configuration already appears to exist, do you REALLY want to add an entirely new validator configuration")
		if result != "y" {
			return nil
		}
		return DefineValidator()
	}
	if errors.Is(err, os.ErrNotExist) {
		result, _ := yesNo("Validator not configured.  Create brand new validator")
		if result != "y" {
			return nil
		}
		return DefineValidator()
	}
	if err != nil {
		return cli.Exit(err, 1)
	}
	slog.Info("validator", "id", v.ValidatorID)
	return nil
}

func ValidatorInfo(ctx context.Context, command *cli.Command) error {
	info, err := LoadNodeInfo()
	if err != nil {
		return fmt.Errorf("validator not configured: %w", err)
	}
	var config reti.ValidatorConfig
	err = App.protocol.Env().View(func(tx *chain.Txn) error {
		var err error
		config, err = App.protocol.Registry().GetValidatorConfig(tx, info.ValidatorID)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Println(config.String())
	return nil
}

func ValidatorState(ctx context.Context, command *cli.Command) error {
	info, err := LoadNodeInfo()
	if err != nil {
		return fmt.Errorf("validator not configured: %w", err)
	}
	var state reti.ValidatorCurState
	err = App.protocol.Env().View(func(tx *chain.Txn) error {
		var err error
		state, err = App.protocol.Registry().GetValidatorState(tx, info.ValidatorID)
		return err
	})
	if err != nil {
		return err
	}
	slog.Info(state.String())
	return nil
}

func ClaimValidator(ctx context.Context, command *cli.Command) error {
	_, err := LoadNodeInfo()
	if err == nil {
		return cli.Exit(errors.New("validator configuration already defined"), 1)
	}
	addr, err := types.DecodeAddress(command.String("account"))
	if err != nil {
		return fmt.Errorf("invalid address specified: %w", err)
	}
	id := command.Uint("id")

	App.logger.Info("Claiming validator", "id", id)

	var config reti.ValidatorConfig
	err = App.protocol.Env().View(func(tx *chain.Txn) error {
		var err error
		config, err = App.protocol.Registry().GetValidatorConfig(tx, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("error fetching config from chain: %w", err)
	}
	if config.Owner != addr && config.Manager != addr {
		return fmt.Errorf("you are not the owner or manager of validator:%d, account:%s is owner", id, config.Owner.String())
	}
	info := &NodeInfo{
		ValidatorID: id,
		NodeNum:     App.retiNodeNum,
		Owner:       config.Owner.String(),
		Manager:     config.Manager.String(),
	}
	if err := SaveNodeInfo(info); err != nil {
		return err
	}
	misc.Infof(App.logger, "You have successfully imported/claimed this validator, but you must now claim pools for this node as none will be assigned")
	return nil
}

func DefineValidator() error {
	// Build up a new validator config
	config := reti.ValidatorConfig{}

	owner, err := getAlgoAccount("Enter account address for the 'owner' of the validator", "")
	if err != nil {
		return err
	}
	config.Owner, _ = types.DecodeAddress(owner)

	manager, err := getAlgoAccount("Enter account address for the 'manager' of the validator", owner)
	if err != nil {
		return err
	}
	config.Manager, _ = types.DecodeAddress(manager)

	payoutMins, err := getInt("Enter the payout frequency (in minutes)", 60, reti.MinEpochPayoutMins, reti.MaxEpochPayoutMins)
	if err != nil {
		return err
	}
	config.PayoutEveryXMins = uint64(payoutMins)

	pctToValidator, err := getInt("Enter the payout percentage to the validator (in four decimals, ie: 5% = 50000)", 50000, 0, reti.MaxPctToValidator)
	if err != nil {
		return err
	}
	config.PercentToValidator = uint64(pctToValidator)

	commissionAddr, err := getAlgoAccount("Enter the address that receives the validation commission each epoch payout", owner)
	if err != nil {
		return err
	}
	config.ValidatorCommissionAddress, _ = types.DecodeAddress(commissionAddr)

	minStake, err := getInt("Enter the minimum algo stake required to enter the pool", 1000, 1, 1_000_000_000)
	if err != nil {
		return err
	}
	config.MinEntryStake = uint64(minStake) * 1e6

	maxPerPool, err := getInt("Enter the maximum algo stake allowed per pool", 20_000_000, 200_000, 70_000_000)
	if err != nil {
		return err
	}
	config.MaxAlgoPerPool = uint64(maxPerPool) * 1e6

	poolsPerNode, err := getInt("Enter the number of pools to allow per node [max 3 recommended]", 3, 1, reti.MaxPoolsPerNode)
	if err != nil {
		return err
	}
	config.PoolsPerNode = uint64(poolsPerNode)

	if y, _ := yesNo("Do you want to distribute a secondary reward token alongside algo rewards"); y == "y" {
		tokenID, err := getInt("Enter the asset id of the reward token", 0, 1, 1<<31)
		if err != nil {
			return err
		}
		config.RewardTokenID = uint64(tokenID)
		perPayout, err := getInt("Enter the reward token amount paid per full epoch payout", 1000, 1, 1<<31)
		if err != nil {
			return err
		}
		config.RewardPerPayout = uint64(perPayout)
	}

	var validatorID uint64
	err = App.protocol.Env().Execute(config.Owner, func(tx *chain.Txn) error {
		mbr := App.protocol.Registry().GetMbrAmounts(tx).AddValidatorMbr
		var err error
		validatorID, err = App.protocol.Registry().AddValidator(tx, chain.Payment{From: config.Owner, Amount: mbr}, config)
		return err
	})
	if err != nil {
		return err
	}
	slog.Info("New Validator added, your Validator ID is:", "id", validatorID)

	return SaveNodeInfo(&NodeInfo{
		ValidatorID: validatorID,
		NodeNum:     App.retiNodeNum,
		Owner:       config.Owner.String(),
		Manager:     config.Manager.String(),
	})
}

func getInt(prompt string, defVal int, minVal int, maxVal int) (int, error) {
	validate := func(input string) error {
		value, err := strconv.Atoi(input)
		if err != nil {
			return err
		}
		if value < minVal || value > maxVal {
			return fmt.Errorf("value must be between %d and %d", minVal, maxVal)
		}
		return nil
	}
	result, err := (&promptui.Prompt{
		Label:    prompt,
		Default:  strconv.Itoa(defVal),
		Validate: validate,
	}).Run()
	if err != nil {
		return 0, err
	}
	value, _ := strconv.Atoi(result)
	return value, nil
}

func getAlgoAccount(prompt string, defVal string) (string, error) {
	return (&promptui.Prompt{
		Label:   prompt,
		Default: defVal,
		Validate: func(s string) error {
			_, err := types.DecodeAddress(s)
			return err
		},
	}).Run()
}

func yesNo(prompt string) (string, error) {
	return (&promptui.Prompt{
		Label:     prompt,
		IsConfirm: true,
	}).Run()
}
