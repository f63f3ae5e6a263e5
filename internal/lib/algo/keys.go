package algo

import (
	"crypto/rand"
	"fmt"
	"math"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"golang.org/x/crypto/ed25519"
)

// ParticipationKey is the consensus key material an account registers with
// to vote.  Generated locally; only the public halves are ever registered.
type ParticipationKey struct {
	Address         string `json:"address"`
	VoteKey         []byte `json:"vote-participation-key"`
	SelectionKey    []byte `json:"selection-participation-key"`
	StateProofKey   []byte `json:"state-proof-key"`
	VoteFirstValid  uint64 `json:"vote-first-valid"`
	VoteLastValid   uint64 `json:"vote-last-valid"`
	VoteKeyDilution uint64 `json:"vote-key-dilution"`
}

// DefaultKeyDilution is sqrt of the validity window, the network default for
// two-level participation keys.
func DefaultKeyDilution(firstValid, lastValid uint64) uint64 {
	if lastValid <= firstValid {
		return 1
	}
	return uint64(math.Sqrt(float64(lastValid - firstValid)))
}

// GenerateParticipationKey creates fresh key material for an account over a
// validity window.  Private halves are discarded; the simulated network only
// checks key shape at registration.
func GenerateParticipationKey(account types.Address, firstValid, lastValid uint64) (*ParticipationKey, error) {
	if lastValid <= firstValid {
		return nil, fmt.Errorf("invalid validity window %d - %d", firstValid, lastValid)
	}
	votePub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating vote key: %w", err)
	}
	selPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating selection key: %w", err)
	}
	stateProof := make([]byte, 64)
	if _, err := rand.Read(stateProof); err != nil {
		return nil, fmt.Errorf("generating state proof key: %w", err)
	}
	return &ParticipationKey{
		Address:         account.String(),
		VoteKey:         votePub,
		SelectionKey:    selPub,
		StateProofKey:   stateProof,
		VoteFirstValid:  firstValid,
		VoteLastValid:   lastValid,
		VoteKeyDilution: DefaultKeyDilution(firstValid, lastValid),
	}, nil
}

// GenerateAccount creates a new random account address (test/simnet use).
func GenerateAccount() (types.Address, error) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return types.Address{}, fmt.Errorf("generating account key: %w", err)
	}
	var addr types.Address
	copy(addr[:], pub)
	return addr, nil
}
