package model

import "encoding/json"

// InfoConfig narrows what an info-style response should include.
// Decode client input over DefaultInfoConfig so omitted keys keep the
// documented defaults.
type InfoConfig struct {
	Channels           []string `json:"channels,omitempty"`
	IncludeHistory     bool     `json:"include_history"`
	IncludeUsers       bool     `json:"include_users"`
	IncludeConnections bool     `json:"include_connections"`
	ExcludeChannels    []string `json:"exclude_channels,omitempty"`
	ReturnPublicState  bool     `json:"return_public_state"`
}

func DefaultInfoConfig() InfoConfig {
	return InfoConfig{
		IncludeHistory: true,
		IncludeUsers:   true,
	}
}

// ChannelInfo is the externally visible view of a single channel.
type ChannelInfo struct {
	Name             string        `json:"name"`
	TotalConnections int           `json:"total_connections"`
	TotalUsers       int           `json:"total_users"`
	Users            []string      `json:"users"`
	LastActive       string        `json:"last_active"`
	History          []Envelope    `json:"history"`
	Settings         ChannelConfig `json:"settings"`
}

// UserStateInfo pairs a username with whichever state projection the
// caller asked for.
type UserStateInfo struct {
	User        string                     `json:"user"`
	State       map[string]json.RawMessage `json:"state"`
	Connections []string                   `json:"connections,omitempty"`
}

// UserInfo is the per-user view used by the admin endpoint.
type UserInfo struct {
	User        string                     `json:"user"`
	State       map[string]json.RawMessage `json:"state"`
	PublicState map[string]json.RawMessage `json:"public_state"`
	Connections []string                   `json:"connections,omitempty"`
}

// InfoResponse aggregates channel and user views for /info and the
// connect/subscribe/unsubscribe responses.
type InfoResponse struct {
	Channels map[string]ChannelInfo `json:"channels"`
	Users    []UserStateInfo        `json:"users"`
}

// StateChange records one user-state key whose value actually changed.
type StateChange struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// ServerInfo is the admin dashboard payload.
type ServerInfo struct {
	RememberedUserCount int                    `json:"remembered_user_count"`
	UniqueUserCount     int                    `json:"unique_user_count"`
	TotalConnections    int                    `json:"total_connections"`
	TotalChannels       int                    `json:"total_channels"`
	TotalMessages       uint64                 `json:"total_messages"`
	TotalUniqueMessages uint64                 `json:"total_unique_messages"`
	Channels            map[string]ChannelInfo `json:"channels"`
	Users               []UserInfo             `json:"users"`
	Uptime              string                 `json:"uptime"`
	RecentlyReaped      map[string]string      `json:"recently_reaped,omitempty"`
}
