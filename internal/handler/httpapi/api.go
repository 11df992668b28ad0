// Package httpapi exposes the broker's JSON-over-HTTP surface: the
// privileged control plane, the client-facing long-poll and websocket
// transports, and the admin dashboard endpoint.
package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/channelstream/channelstream/config"
	"github.com/channelstream/channelstream/internal/domain/model"
	"github.com/channelstream/channelstream/internal/domain/registry"
	"github.com/channelstream/channelstream/internal/service"
)

// API bundles the HTTP handlers around the broker control plane.
type API struct {
	broker service.Broker
	cfg    *config.Config
	logger *slog.Logger
}

func NewAPI(broker service.Broker, cfg *config.Config, logger *slog.Logger) *API {
	return &API{broker: broker, cfg: cfg, logger: logger}
}

type connectRequest struct {
	Username        string                     `json:"username"`
	ConnID          string                     `json:"conn_id"`
	Channels        []string                   `json:"channels"`
	ChannelConfigs  map[string]json.RawMessage `json:"channel_configs"`
	FreshUserState  map[string]json.RawMessage `json:"fresh_user_state"`
	UserState       map[string]json.RawMessage `json:"user_state"`
	StatePublicKeys *[]string                  `json:"state_public_keys"`
	Info            json.RawMessage            `json:"info"`
}

// Connect registers a new connection for the user and subscribes it to
// the requested channels.
func (a *API) Connect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidationErrors(w, ValidationErrors{"body": err.Error()})
		return
	}
	if req.Username == "" {
		writeValidationErrors(w, ValidationErrors{"username": "required"})
		return
	}

	connID := uuid.Nil
	if req.ConnID != "" {
		id, err := uuid.Parse(req.ConnID)
		if err != nil {
			writeValidationErrors(w, ValidationErrors{"conn_id": "must be a UUID"})
			return
		}
		connID = id
	}

	cfgs, verrs := parseChannelConfigs(req.ChannelConfigs)
	if verrs != nil {
		writeValidationErrors(w, verrs)
		return
	}
	infoCfg, err := parseInfoConfig(req.Info)
	if err != nil {
		writeValidationErrors(w, ValidationErrors{"info": err.Error()})
		return
	}

	res := a.broker.Connect(r.Context(), registry.ConnectRequest{
		Username:        req.Username,
		ConnID:          connID,
		Channels:        req.Channels,
		ChannelConfigs:  cfgs,
		FreshUserState:  req.FreshUserState,
		UpdateUserState: req.UserState,
		StatePublicKeys: req.StatePublicKeys,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"conn_id":       res.Connection.ID,
		"state":         nonNilState(res.State),
		"public_state":  nonNilState(res.PublicState),
		"username":      res.Username,
		"channels":      nonNilStrings(res.Channels),
		"channels_info": a.channelsInfo(res.Channels, infoCfg),
	})
}

type subscribeRequest struct {
	ConnID         string                     `json:"conn_id"`
	Channels       []string                   `json:"channels"`
	ChannelConfigs map[string]json.RawMessage `json:"channel_configs"`
	Info           json.RawMessage            `json:"info"`
}

// Subscribe adds the connection to the named channels.
func (a *API) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidationErrors(w, ValidationErrors{"body": err.Error()})
		return
	}
	connID, err := uuid.Parse(req.ConnID)
	if err != nil {
		writeValidationErrors(w, ValidationErrors{"conn_id": "must be a UUID"})
		return
	}
	if len(req.Channels) == 0 {
		writeValidationErrors(w, ValidationErrors{"channels": "required"})
		return
	}
	cfgs, verrs := parseChannelConfigs(req.ChannelConfigs)
	if verrs != nil {
		writeValidationErrors(w, verrs)
		return
	}
	infoCfg, ierr := parseInfoConfig(req.Info)
	if ierr != nil {
		writeValidationErrors(w, ValidationErrors{"info": ierr.Error()})
		return
	}

	subscribed, current, err := a.broker.Subscribe(r.Context(), connID, req.Channels, cfgs)
	if err != nil {
		writeUnauthorized(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"channels":      nonNilStrings(current),
		"channels_info": a.channelsInfo(current, infoCfg),
		"subscribed_to": nonNilStrings(subscribed),
	})
}

type unsubscribeRequest struct {
	ConnID   string          `json:"conn_id"`
	Channels []string        `json:"channels"`
	Info     json.RawMessage `json:"info"`
}

// Unsubscribe removes the connection from the named channels.
func (a *API) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidationErrors(w, ValidationErrors{"body": err.Error()})
		return
	}
	connID, err := uuid.Parse(req.ConnID)
	if err != nil {
		writeValidationErrors(w, ValidationErrors{"conn_id": "must be a UUID"})
		return
	}
	infoCfg, ierr := parseInfoConfig(req.Info)
	if ierr != nil {
		writeValidationErrors(w, ValidationErrors{"info": ierr.Error()})
		return
	}

	unsubscribed, current, err := a.broker.Unsubscribe(r.Context(), connID, req.Channels)
	if err != nil {
		writeUnauthorized(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"channels":          nonNilStrings(current),
		"channels_info":     a.channelsInfo(current, infoCfg),
		"unsubscribed_from": nonNilStrings(unsubscribed),
	})
}

// PostMessages accepts a batch of envelopes for asynchronous fan-out
// and echoes the accepted ones back, server-assigned identity included.
func (a *API) PostMessages(w http.ResponseWriter, r *http.Request) {
	var envs []*model.Envelope
	if err := decodeJSON(r, &envs); err != nil {
		writeValidationErrors(w, ValidationErrors{"body": err.Error()})
		return
	}
	accepted := a.broker.AcceptMessages(r.Context(), envs)
	if accepted == nil {
		accepted = []*model.Envelope{}
	}
	writeJSON(w, http.StatusOK, accepted)
}

// PatchMessages accepts history edits.
func (a *API) PatchMessages(w http.ResponseWriter, r *http.Request) {
	var edits []model.MessageEdit
	if err := decodeJSON(r, &edits); err != nil {
		writeValidationErrors(w, ValidationErrors{"body": err.Error()})
		return
	}
	accepted := make([]model.MessageEdit, 0, len(edits))
	for _, edit := range edits {
		if edit.UUID == uuid.Nil || edit.Channel == "" {
			continue
		}
		accepted = append(accepted, edit)
	}
	a.broker.AcceptEdits(r.Context(), accepted)
	writeJSON(w, http.StatusOK, accepted)
}

// DeleteMessages accepts history deletions.
func (a *API) DeleteMessages(w http.ResponseWriter, r *http.Request) {
	var dels []model.MessageDelete
	if err := decodeJSON(r, &dels); err != nil {
		writeValidationErrors(w, ValidationErrors{"body": err.Error()})
		return
	}
	accepted := make([]model.MessageDelete, 0, len(dels))
	for _, del := range dels {
		if del.UUID == uuid.Nil || del.Channel == "" {
			continue
		}
		accepted = append(accepted, del)
	}
	a.broker.AcceptDeletes(r.Context(), accepted)
	writeJSON(w, http.StatusOK, accepted)
}

type userStateRequest struct {
	User            string                     `json:"user"`
	UserState       map[string]json.RawMessage `json:"user_state"`
	StatePublicKeys *[]string                  `json:"state_public_keys"`
}

// UserState merges a state patch into the named user. Unknown users are
// a no-op returning empty state.
func (a *API) UserState(w http.ResponseWriter, r *http.Request) {
	var req userStateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidationErrors(w, ValidationErrors{"body": err.Error()})
		return
	}
	if req.User == "" {
		writeValidationErrors(w, ValidationErrors{"user": "required"})
		return
	}

	res := a.broker.ChangeUserState(r.Context(), req.User, req.UserState, req.StatePublicKeys)

	changed := res.Changed
	if changed == nil {
		changed = []model.StateChange{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_state":    nonNilState(res.State),
		"changed_state": changed,
		"public_keys":   nonNilStrings(res.PublicKeys),
	})
}

// ChannelConfig reconfigures the named channels, creating missing ones.
func (a *API) ChannelConfig(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if err := decodeJSON(r, &raw); err != nil {
		writeValidationErrors(w, ValidationErrors{"body": err.Error()})
		return
	}
	cfgs, verrs := parseChannelConfigs(raw)
	if verrs != nil {
		writeValidationErrors(w, verrs)
		return
	}

	names := a.broker.SetChannelConfig(r.Context(), cfgs)
	writeJSON(w, http.StatusOK, a.channelsInfo(names, model.DefaultInfoConfig()))
}

type infoRequest struct {
	Channels []string        `json:"channels"`
	Info     json.RawMessage `json:"info"`
}

// Info returns the aggregate channel and user view. An empty body
// selects every channel and includes connection ids.
func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeValidationErrors(w, ValidationErrors{"body": err.Error()})
		return
	}

	cfg := model.DefaultInfoConfig()
	if len(body) == 0 {
		cfg.IncludeConnections = true
	} else {
		var req infoRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeValidationErrors(w, ValidationErrors{"body": err.Error()})
			return
		}
		cfg, err = parseInfoConfig(req.Info)
		if err != nil {
			writeValidationErrors(w, ValidationErrors{"info": err.Error()})
			return
		}
		if cfg.Channels == nil {
			cfg.Channels = req.Channels
		}
	}

	writeJSON(w, http.StatusOK, a.broker.Info(cfg))
}

// Disconnect tears the identified connection down immediately.
func (a *API) Disconnect(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("conn_id")
	if raw == "" && r.Body != nil {
		var body struct {
			ConnID string `json:"conn_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		raw = body.ConnID
	}

	connID, err := uuid.Parse(raw)
	if err != nil {
		writeUnauthorized(w)
		return
	}
	if !a.broker.Disconnect(r.Context(), connID) {
		writeUnauthorized(w)
		return
	}
	writeJSON(w, http.StatusOK, true)
}

// Admin serves the dashboard JSON payload.
func (a *API) Admin(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.broker.AdminInfo())
}

// channelsInfo builds the per-response topology view limited to the
// given channels. An empty list yields an empty view rather than the
// whole table.
func (a *API) channelsInfo(channels []string, cfg model.InfoConfig) model.InfoResponse {
	if channels == nil {
		channels = []string{}
	}
	cfg.Channels = channels
	return a.broker.Info(cfg)
}

func nonNilState(m map[string]json.RawMessage) map[string]json.RawMessage {
	if m == nil {
		return map[string]json.RawMessage{}
	}
	return m
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
