package model

// ChannelConfig controls per-channel presence, history and lifecycle
// behavior. Zero values match the broker defaults except HistorySize,
// so always start from DefaultChannelConfig when decoding client input.
type ChannelConfig struct {
	// NotifyPresence emits a presence envelope to subscribers when a
	// user joins or parts the channel.
	NotifyPresence bool `json:"notify_presence"`

	// NotifyState broadcasts user-state changes to subscribers.
	NotifyState bool `json:"notify_state"`

	// BroadcastPresenceWithUserLists attaches the current user list to
	// presence envelopes.
	BroadcastPresenceWithUserLists bool `json:"broadcast_presence_with_user_lists"`

	// StoreHistory appends non-transient envelopes to channel history.
	StoreHistory bool `json:"store_history"`

	// HistorySize bounds the history; the oldest entry is evicted on
	// overflow.
	HistorySize int `json:"history_size"`

	// Salvageable keeps the channel alive after its last subscriber
	// leaves.
	Salvageable bool `json:"salvageable"`
}

// DefaultChannelConfig returns the configuration applied to channels
// created without an explicit config.
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{HistorySize: 10}
}
