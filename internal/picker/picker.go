// Package picker draws the anomaly variant shown for the next round.
package picker

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"time"

	"github.com/DoyleJ11/anomaly-detection/internal/engine"
)

// Picker is not safe for concurrent use; each participant loop owns one.
type Picker struct {
	rng *rand.Rand
	// last anomalous variant seen per stage
	last map[int]int8
}

// New returns a picker seeded from seed. A zero seed draws from the clock.
func New(seed int64) *Picker {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Picker{
		rng:  seededRNG(seed),
		last: make(map[int]int8),
	}
}

func seededRNG(seed int64) *rand.Rand {
	// #nosec G404 -- variant selection is not security sensitive
	return rand.New(rand.NewPCG(seedWord(seed, "roll"), seedWord(seed, "variant")))
}

func seedWord(seed int64, salt string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(fmt.Sprintf("%d:%s", seed, salt)))
	return h.Sum64()
}

// Observe records the variant of a replicated record. It is the only way the
// no-repeat memory changes, so a draw that never got committed is forgotten.
func (p *Picker) Observe(stageIndex int, variant int8) {
	if variant == engine.Unset {
		return
	}
	p.last[stageIndex] = variant
}

// Pick rolls the stage's anomaly probability and, on a hit, draws a variant
// uniformly among those different from the previous anomalous one. A stage
// without variants always shows the normal configuration.
func (p *Picker) Pick(stageIndex int, stage engine.StageConfig) int8 {
	n := stage.VariantCount
	if n <= 0 || stage.AnomalyProbabilityPercent <= 0 {
		return engine.Unset
	}
	if p.rng.IntN(100) >= stage.AnomalyProbabilityPercent {
		return engine.Unset
	}

	prev, seen := p.last[stageIndex]
	var idx int
	if !seen || n == 1 || int(prev) >= n {
		idx = p.rng.IntN(n)
	} else {
		idx = p.rng.IntN(n - 1)
		if idx >= int(prev) {
			idx++
		}
	}

	return int8(idx)
}

var _ engine.VariantPicker = (*Picker)(nil)
