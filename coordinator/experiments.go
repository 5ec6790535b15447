package coordinator

import (
	"crypto/md5"
	"math/big"
)

// assignVariant is a consistent-hash traffic split: hash
// "{experimentName}_{subjectID}" with MD5,
// fold the digest into [0, 1) by taking it mod 10000, and route below
// trafficSplit to variant "B". The same (experimentName, subjectID) pair
// always lands on the same variant.
func assignVariant(experimentName, subjectID string, trafficSplit float64) string {
	sum := md5.Sum([]byte(experimentName + "_" + subjectID))
	n := new(big.Int).SetBytes(sum[:])
	mod := new(big.Int).Mod(n, big.NewInt(10000))
	randVal := float64(mod.Int64()) / 10000.0
	if randVal < trafficSplit {
		return "B"
	}
	return "A"
}
