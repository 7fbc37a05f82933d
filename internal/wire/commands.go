package wire

import "github.com/pumpstream/ingest/pkg/model"

// Outbound method names for the subscription protocol.
const (
	MethodSubscribeNewToken     = "subscribeNewToken"
	MethodSubscribeTokenTrade   = "subscribeTokenTrade"
	MethodUnsubscribeTokenTrade = "unsubscribeTokenTrade"
)

// Command is the client→server frame shape.
type Command struct {
	Method string   `json:"method"`
	Keys   []string `json:"keys,omitempty"`
}

// EncodeSubscribeNewToken builds the one-time "subscribe to creation
// events" frame.
func EncodeSubscribeNewToken() Command {
	return Command{Method: MethodSubscribeNewToken}
}

// EncodeSubscribeTokenTrade builds a batched trade-subscription frame.
func EncodeSubscribeTokenTrade(mints []model.Mint) Command {
	return Command{Method: MethodSubscribeTokenTrade, Keys: mintsToStrings(mints)}
}

// EncodeUnsubscribeTokenTrade builds a batched trade-unsubscription frame.
func EncodeUnsubscribeTokenTrade(mints []model.Mint) Command {
	return Command{Method: MethodUnsubscribeTokenTrade, Keys: mintsToStrings(mints)}
}

func mintsToStrings(mints []model.Mint) []string {
	out := make([]string, len(mints))
	for i, m := range mints {
		out[i] = string(m)
	}
	return out
}
