// Package signer provides the transaction-signing primitive the publisher
// depends on: turning a custom_json operation into a broadcast-ready,
// signed transaction. The publisher treats it as an external collaborator
// (spec §1); HiveSigner is the concrete implementation.
package signer

import (
	"context"
	"encoding/json"

	"github.com/podping-hive/podping-go/internal/podping"
)

// Signer signs a custom_json operation for the given account and returns
// a transaction body ready to hand to the node pool's broadcast call.
type Signer interface {
	Sign(ctx context.Context, account, postingKeyWIF string, op podping.CustomJSONOp) (json.RawMessage, error)
}
