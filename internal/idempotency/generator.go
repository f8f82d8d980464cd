package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Scope namespaces keys so different generation paths never collide.
type Scope string

const (
	ScopeBatchPeriod     Scope = "batch_period"
	ScopeImmediatePeriod Scope = "immediate_period"
)

// GenerateKey hashes the scope and params into a stable key. Params are
// sorted so map iteration order never changes the result.
func GenerateKey(scope Scope, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(scope))
	for _, k := range keys {
		fmt.Fprintf(&b, ":%s=%s", k, params[k])
	}

	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%s-%s", scope, hex.EncodeToString(hash[:16]))
}
