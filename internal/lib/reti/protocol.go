package reti

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/TxnLab/reti-core/internal/lib/chain"
)

var registryAppIDKey = []byte("sys/retiAppID")

// ErrNotBootstrapped means no registry exists in this environment yet.
var ErrNotBootstrapped = errors.New("registry not bootstrapped")

// Protocol ties one environment to its single validator registry and hands
// out pool instances bound to it.  Pools resolved through it are always
// verified to actually belong to the registry (their persisted creator app
// must match) before any call is dispatched.
type Protocol struct {
	env      *chain.Env
	registry *ValidatorRegistry
	logger   *slog.Logger
}

// Bootstrap creates the registry application in a fresh environment.
// Fails if one already exists.
func Bootstrap(env *chain.Env, logger *slog.Logger) (*Protocol, error) {
	p := &Protocol{env: env, logger: logger}
	err := env.Execute(chain.FeeSinkAddress, func(tx *chain.Txn) error {
		if _, exists, _ := tx.Get(registryAppIDKey); exists {
			return errors.New("registry already bootstrapped")
		}
		appID := tx.CreateApp()
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, appID)
		tx.Set(registryAppIDKey, buf)
		setGlobalUint(tx, appID, VldtrNumValidators, 0)
		p.registry = NewValidatorRegistry(appID, p.resolvePool, logger)
		tx.Log("registry_bootstrapped", "app_id", appID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Load binds to the registry already present in the environment.
func Load(env *chain.Env, logger *slog.Logger) (*Protocol, error) {
	p := &Protocol{env: env, logger: logger}
	err := env.View(func(tx *chain.Txn) error {
		data, exists, err := tx.Get(registryAppIDKey)
		if err != nil {
			return err
		}
		if !exists || len(data) < 8 {
			return ErrNotBootstrapped
		}
		p.registry = NewValidatorRegistry(binary.BigEndian.Uint64(data), p.resolvePool, logger)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Protocol) Env() *chain.Env {
	return p.env
}

func (p *Protocol) Registry() *ValidatorRegistry {
	return p.registry
}

// Pool returns the staking pool instance for an app id, verifying the app
// was created by this protocol's registry.
func (p *Protocol) Pool(tx *chain.Txn, poolAppID uint64) (*StakingPool, error) {
	creator, ok := getGlobalUint(tx, poolAppID, StakePoolCreatorApp)
	if !ok {
		return nil, fmt.Errorf("%w: app id %d", ErrPoolNotFound, poolAppID)
	}
	if creator != p.registry.AppID() {
		return nil, fmt.Errorf("%w: app %d was created by app %d, not this registry", ErrUnexpectedCaller, poolAppID, creator)
	}
	return newStakingPool(poolAppID, p.registry, p.resolvePool, p.logger), nil
}

func (p *Protocol) resolvePool(tx *chain.Txn, poolAppID uint64) (PoolPort, error) {
	return p.Pool(tx, poolAppID)
}
