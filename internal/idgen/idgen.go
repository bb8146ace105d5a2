// Package idgen generates entity identifiers.
//
// Every entity is addressed by a prefixed id ("ctr_", "wal_", "mst_") so logs
// and API payloads stay self-describing.
package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// Entity prefixes.
const (
	User        = "usr_"
	Wallet      = "wal_"
	Transaction = "txn_"
	Contract    = "ctr_"
	Listing     = "lst_"
	Milestone   = "mst_"
	Shipment    = "shp_"
	Advice      = "adv_"
	Message     = "msg_"
	Post        = "pst_"
	Reply       = "rpl_"
)

// New returns a random v4 UUID in canonical form.
func New() string {
	return uuid.NewString()
}

// WithPrefix returns prefix followed by 32 hex chars of a v4 UUID.
func WithPrefix(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}
