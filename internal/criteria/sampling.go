package criteria

import (
	"github.com/spaolacci/murmur3"
)

// samplingBuckets gives 0.01% granularity.
const samplingBuckets = 10000

// SamplePercent maps (seed, key) to a sticky value in [0, 100).
//
// The seed is the conversation's random seed and the key comes from the
// field path (random/<key>/percent), so the same conversation always lands in
// the same bucket for a given key while different keys stay independent.
func SamplePercent(seed, key string) float64 {
	hasher := murmur3.New32()
	_, _ = hasher.Write([]byte(seed + ":" + key)) // never fails
	bucket := hasher.Sum32() % samplingBuckets
	return float64(bucket) / (samplingBuckets / 100)
}
