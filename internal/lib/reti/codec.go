package reti

import (
	"encoding/binary"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/types"
)

// Persisted layouts are fixed big-endian records, the same shape the hosted
// contracts store in their boxes.  No schema versioning - that's owned by
// the deployment layer.

const validatorConfigSize = 8 + 32 + 32 + 8 + 8 + 32 + 8 + 8 + 8 + 8 + 8 + 8 + 8 // 176

func encodeValidatorConfig(buf []byte, c ValidatorConfig) []byte {
	ibytes := make([]byte, 8)
	put := func(v uint64) {
		binary.BigEndian.PutUint64(ibytes, v)
		buf = append(buf, ibytes...)
	}
	put(c.ID)
	buf = append(buf, c.Owner[:]...)
	buf = append(buf, c.Manager[:]...)
	put(c.PayoutEveryXMins)
	put(c.PercentToValidator)
	buf = append(buf, c.ValidatorCommissionAddress[:]...)
	put(c.MinEntryStake)
	put(c.MaxAlgoPerPool)
	put(c.PoolsPerNode)
	put(c.SunsettingOn)
	put(c.SunsettingTo)
	put(c.RewardTokenID)
	put(c.RewardPerPayout)
	return buf
}

func decodeValidatorConfig(data []byte) (ValidatorConfig, error) {
	if len(data) < validatorConfigSize {
		return ValidatorConfig{}, fmt.Errorf("validator config record too short: %d", len(data))
	}
	var c ValidatorConfig
	pos := 0
	next := func() uint64 {
		v := binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
		return v
	}
	addr := func() types.Address {
		var a types.Address
		copy(a[:], data[pos:pos+32])
		pos += 32
		return a
	}
	c.ID = next()
	c.Owner = addr()
	c.Manager = addr()
	c.PayoutEveryXMins = next()
	c.PercentToValidator = next()
	c.ValidatorCommissionAddress = addr()
	c.MinEntryStake = next()
	c.MaxAlgoPerPool = next()
	c.PoolsPerNode = next()
	c.SunsettingOn = next()
	c.SunsettingTo = next()
	c.RewardTokenID = next()
	c.RewardPerPayout = next()
	return c, nil
}

func encodeValidatorRecord(r *validatorRecord) []byte {
	buf := make([]byte, 0, validatorRecordMaxSize())
	buf = encodeValidatorConfig(buf, r.Config)

	ibytes := make([]byte, 8)
	put := func(v uint64) {
		binary.BigEndian.PutUint64(ibytes, v)
		buf = append(buf, ibytes...)
	}
	put(uint64(r.State.NumPools))
	put(r.State.TotalStakers)
	put(r.State.TotalAlgoStaked)
	put(r.State.RewardTokenHeldBack)

	buf = append(buf, byte(len(r.Pools)>>8), byte(len(r.Pools)))
	for _, p := range r.Pools {
		put(p.PoolAppID)
		put(uint64(p.TotalStakers))
		put(p.TotalAlgoStaked)
	}

	buf = append(buf, byte(len(r.TokenPayoutRatio.PoolPctOfWhole)>>8), byte(len(r.TokenPayoutRatio.PoolPctOfWhole)))
	for _, pct := range r.TokenPayoutRatio.PoolPctOfWhole {
		put(pct)
	}
	put(r.TokenPayoutRatio.UpdatedForPayout)

	buf = append(buf, byte(len(r.NodePoolAssignments.Nodes)))
	for _, node := range r.NodePoolAssignments.Nodes {
		buf = append(buf, byte(len(node)))
		for _, appID := range node {
			put(appID)
		}
	}
	return buf
}

func decodeValidatorRecord(data []byte) (*validatorRecord, error) {
	config, err := decodeValidatorConfig(data)
	if err != nil {
		return nil, err
	}
	r := &validatorRecord{Config: config}
	pos := validatorConfigSize
	remain := func(n int) error {
		if len(data)-pos < n {
			return fmt.Errorf("validator record truncated at offset %d", pos)
		}
		return nil
	}
	next := func() uint64 {
		v := binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
		return v
	}
	if err := remain(32); err != nil {
		return nil, err
	}
	r.State.NumPools = int(next())
	r.State.TotalStakers = next()
	r.State.TotalAlgoStaked = next()
	r.State.RewardTokenHeldBack = next()

	if err := remain(2); err != nil {
		return nil, err
	}
	numPools := int(data[pos])<<8 | int(data[pos+1])
	pos += 2
	if err := remain(numPools * 24); err != nil {
		return nil, err
	}
	for i := 0; i < numPools; i++ {
		var p PoolInfo
		p.PoolAppID = next()
		p.TotalStakers = int(next())
		p.TotalAlgoStaked = next()
		r.Pools = append(r.Pools, p)
	}

	if err := remain(2); err != nil {
		return nil, err
	}
	numRatios := int(data[pos])<<8 | int(data[pos+1])
	pos += 2
	if err := remain(numRatios*8 + 8); err != nil {
		return nil, err
	}
	for i := 0; i < numRatios; i++ {
		r.TokenPayoutRatio.PoolPctOfWhole = append(r.TokenPayoutRatio.PoolPctOfWhole, next())
	}
	r.TokenPayoutRatio.UpdatedForPayout = next()

	if err := remain(1); err != nil {
		return nil, err
	}
	numNodes := int(data[pos])
	pos++
	for i := 0; i < numNodes; i++ {
		if err := remain(1); err != nil {
			return nil, err
		}
		cnt := int(data[pos])
		pos++
		if err := remain(cnt * 8); err != nil {
			return nil, err
		}
		var node []uint64
		for j := 0; j < cnt; j++ {
			node = append(node, next())
		}
		r.NodePoolAssignments.Nodes = append(r.NodePoolAssignments.Nodes, node)
	}
	return r, nil
}

// validatorRecordMaxSize is the fully-populated record size the box MBR is
// quoted against.
func validatorRecordMaxSize() int {
	return validatorConfigSize +
		32 + // state
		2 + MaxPools*24 + // pools
		2 + MaxPools*8 + 8 + // payout ratio
		1 + MaxNodes*(1+MaxPoolsPerNode*8) // node assignments
}

// staker pool set: count-prefixed list of ValidatorPoolKey entries.
const poolKeySize = 24

func encodePoolKeys(keys []ValidatorPoolKey) []byte {
	buf := make([]byte, 0, 2+len(keys)*poolKeySize)
	buf = append(buf, byte(len(keys)>>8), byte(len(keys)))
	ibytes := make([]byte, 8)
	for _, k := range keys {
		binary.BigEndian.PutUint64(ibytes, k.ID)
		buf = append(buf, ibytes...)
		binary.BigEndian.PutUint64(ibytes, k.PoolID)
		buf = append(buf, ibytes...)
		binary.BigEndian.PutUint64(ibytes, k.PoolAppID)
		buf = append(buf, ibytes...)
	}
	return buf
}

func decodePoolKeys(data []byte) ([]ValidatorPoolKey, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("pool key set record too short: %d", len(data))
	}
	cnt := int(data[0])<<8 | int(data[1])
	if len(data) < 2+cnt*poolKeySize {
		return nil, fmt.Errorf("pool key set record truncated")
	}
	var keys []ValidatorPoolKey
	for i := 0; i < cnt; i++ {
		off := 2 + i*poolKeySize
		keys = append(keys, ValidatorPoolKey{
			ID:        binary.BigEndian.Uint64(data[off : off+8]),
			PoolID:    binary.BigEndian.Uint64(data[off+8 : off+16]),
			PoolAppID: binary.BigEndian.Uint64(data[off+16 : off+24]),
		})
	}
	return keys, nil
}

func stakerPoolSetMaxSize() int {
	return 2 + MaxStakedPoolsPerAccount*poolKeySize
}
