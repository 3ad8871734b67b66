package ranking

import (
	"crypto/sha256"
	"math/big"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
)

var hundred = big.NewInt(100)

// Bucket maps a session id to a stable value in [0,100).
func Bucket(sessionID string) int {
	sum := sha256.Sum256([]byte(sessionID))
	n := new(big.Int).SetBytes(sum[:])
	return int(n.Mod(n, hundred).Int64())
}

// Variant assigns a session to rule-based or learned scoring. The assignment
// depends only on the session id and rolloutPct (a fraction in [0,1]).
func Variant(sessionID string, rolloutPct float64) domain.Variant {
	if sessionID == "" || rolloutPct <= 0 {
		return domain.VariantRuleBased
	}
	if float64(Bucket(sessionID)) < rolloutPct*100 {
		return domain.VariantLearned
	}
	return domain.VariantRuleBased
}
