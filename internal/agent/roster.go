package agent

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"

	"percolator-sim/internal/solana"
)

var displayNames = []string{
	"Aurora", "Basalt", "Cinder", "Drift", "Ember",
	"Fathom", "Gale", "Harbor", "Indigo", "Juniper",
	"Krait", "Lumen", "Mistral", "Nimbus", "Onyx",
	"Pike", "Quartz", "Rook", "Sable", "Tempest",
}

// BuildRoster derives a deterministic fleet of count agents from seed.
// The same seed always yields the same keypairs, names and strategy
// assignment, so identities stay stable across restarts and slot
// recovery can find their ledger accounts.
func BuildRoster(seed string, count int, market, symbol string) ([]*Agent, error) {
	if count <= 0 {
		return nil, fmt.Errorf("roster count must be positive, got %d", count)
	}

	strategies := []Strategy{TrendFollower{}, MeanReverter{}, MarketMaker{}}
	agents := make([]*Agent, 0, count)

	for i := 0; i < count; i++ {
		keySeed := sha256.Sum256([]byte(fmt.Sprintf("%s/agent/%d", seed, i)))
		kp, err := solana.KeypairFromSeed(keySeed[:])
		if err != nil {
			return nil, fmt.Errorf("derive keypair %d: %w", i, err)
		}

		rngSeed := sha256.Sum256([]byte(fmt.Sprintf("%s/rng/%d", seed, i)))
		strat := strategies[i%len(strategies)]

		agents = append(agents, &Agent{
			Keypair:     kp,
			DisplayName: fmt.Sprintf("%s-%d", displayNames[i%len(displayNames)], i),
			Market:      market,
			Symbol:      symbol,
			Strategy:    strat,
			rng:         rand.New(rand.NewSource(int64(binary.LittleEndian.Uint64(rngSeed[:8])))),
		})
	}
	return agents, nil
}
