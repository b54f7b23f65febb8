// Package identity canonicalizes doctor login identities into the stable
// partition key used throughout the ledger. Every doctor-partitioned read and
// write must go through Normalize: two call sites normalizing the same
// identity differently would silently fragment that doctor's data across two
// partitions.
package identity

import (
	"fmt"
	"strings"

	"github.com/carebook/clinic-ledger/pkg/types"
)

// Normalize canonicalizes a raw email-shaped identity: the local part is
// lower-cased and a trailing ".com" is stripped from the domain part. The
// function is pure and idempotent, so already-normalized keys pass through
// unchanged. Inputs without an "@" separator fail with an invalid identity
// error.
func Normalize(raw string) (string, error) {
	local, domain, ok := strings.Cut(raw, "@")
	if !ok {
		return "", types.NewInvalidIdentityError(fmt.Sprintf("identity %q has no @ separator", raw))
	}
	for strings.HasSuffix(domain, ".com") {
		domain = strings.TrimSuffix(domain, ".com")
	}
	return strings.ToLower(local) + "@" + domain, nil
}
