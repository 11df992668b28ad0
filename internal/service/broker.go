package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/channelstream/channelstream/internal/adapter/pubsub"
	"github.com/channelstream/channelstream/internal/domain/model"
	"github.com/channelstream/channelstream/internal/domain/registry"
)

// Broker is the control-plane surface consumed by the transport
// handlers. Every method mutates the registry synchronously; broadcast
// side effects (presence, state changes, fan-out) are handed to the
// dispatch bus and performed by the relay consumers.
type Broker interface {
	Connect(ctx context.Context, req registry.ConnectRequest) registry.ConnectResult
	Subscribe(ctx context.Context, connID uuid.UUID, channels []string, cfgs map[string]model.ChannelConfig) (subscribed, current []string, err error)
	Unsubscribe(ctx context.Context, connID uuid.UUID, channels []string) (unsubscribed, current []string, err error)
	Disconnect(ctx context.Context, connID uuid.UUID) bool

	AcceptMessages(ctx context.Context, envs []*model.Envelope) []*model.Envelope
	AcceptEdits(ctx context.Context, edits []model.MessageEdit)
	AcceptDeletes(ctx context.Context, dels []model.MessageDelete)

	ChangeUserState(ctx context.Context, username string, patch map[string]json.RawMessage, publicKeys *[]string) registry.UserStateResult
	SetChannelConfig(ctx context.Context, cfgs map[string]model.ChannelConfig) []string

	LookupConnection(id uuid.UUID) (*registry.Connection, bool)
	Info(cfg model.InfoConfig) model.InfoResponse
	AdminInfo() model.ServerInfo
}

// BrokerService is the concrete control-plane implementation.
type BrokerService struct {
	registry   *registry.Registry
	dispatcher pubsub.EventDispatcher
	reaped     *ReapedLog
	logger     *slog.Logger
}

func NewBrokerService(reg *registry.Registry, dispatcher pubsub.EventDispatcher, reaped *ReapedLog, logger *slog.Logger) *BrokerService {
	return &BrokerService{
		registry:   reg,
		dispatcher: dispatcher,
		reaped:     reaped,
		logger:     logger,
	}
}

// Connect registers the user's new connection and subscribes it to the
// requested channels, broadcasting any join presence asynchronously.
func (s *BrokerService) Connect(ctx context.Context, req registry.ConnectRequest) registry.ConnectResult {
	res, notify := s.registry.Connect(req)
	s.logger.Debug("connection registered",
		"user", res.Username,
		"conn_id", res.Connection.ID,
		"channels", req.Channels,
	)
	s.broadcast(ctx, notify)
	return res
}

func (s *BrokerService) Subscribe(ctx context.Context, connID uuid.UUID, channels []string, cfgs map[string]model.ChannelConfig) ([]string, []string, error) {
	subscribed, current, notify, err := s.registry.Subscribe(connID, channels, cfgs)
	if err != nil {
		return nil, nil, err
	}
	s.broadcast(ctx, notify)
	return subscribed, current, nil
}

func (s *BrokerService) Unsubscribe(ctx context.Context, connID uuid.UUID, channels []string) ([]string, []string, error) {
	unsubscribed, current, notify, err := s.registry.Unsubscribe(connID, channels)
	if err != nil {
		return nil, nil, err
	}
	s.broadcast(ctx, notify)
	return unsubscribed, current, nil
}

// Disconnect tears the connection down immediately, exactly as the idle
// sweeper would.
func (s *BrokerService) Disconnect(ctx context.Context, connID uuid.UUID) bool {
	found, notify := s.registry.Disconnect(connID)
	if found {
		s.reaped.Record(connID, "client_disconnect")
		s.logger.Debug("connection disconnected", "conn_id", connID)
	}
	s.broadcast(ctx, notify)
	return found
}

// AcceptMessages assigns server-side identity to each envelope and
// enqueues it on the dispatch bus. The HTTP response carries the
// accepted envelopes back, uuid and timestamp included, while fan-out
// proceeds asynchronously.
func (s *BrokerService) AcceptMessages(ctx context.Context, envs []*model.Envelope) []*model.Envelope {
	accepted := make([]*model.Envelope, 0, len(envs))
	for _, env := range envs {
		if !env.Routable() {
			continue
		}
		env.EnsureIdentity(time.Now())
		if err := s.dispatcher.Dispatch(ctx, pubsub.TopicMessages, env); err != nil {
			s.logger.Error("message dispatch failed", "uuid", env.UUID, "err", err)
			continue
		}
		accepted = append(accepted, env)
	}
	return accepted
}

func (s *BrokerService) AcceptEdits(ctx context.Context, edits []model.MessageEdit) {
	for _, edit := range edits {
		if err := s.dispatcher.Dispatch(ctx, pubsub.TopicMessageEdits, edit); err != nil {
			s.logger.Error("edit dispatch failed", "uuid", edit.UUID, "err", err)
		}
	}
}

func (s *BrokerService) AcceptDeletes(ctx context.Context, dels []model.MessageDelete) {
	for _, del := range dels {
		if err := s.dispatcher.Dispatch(ctx, pubsub.TopicMessageDeletes, del); err != nil {
			s.logger.Error("delete dispatch failed", "uuid", del.UUID, "err", err)
		}
	}
}

// ChangeUserState mutates the user synchronously; the resulting
// user_state_change envelopes go out through the bus.
func (s *BrokerService) ChangeUserState(ctx context.Context, username string, patch map[string]json.RawMessage, publicKeys *[]string) registry.UserStateResult {
	res, notify, found := s.registry.ChangeUserState(username, patch, publicKeys)
	if !found {
		s.logger.Debug("user_state for unknown user ignored", "user", username)
		return res
	}
	s.broadcast(ctx, notify)
	return res
}

func (s *BrokerService) SetChannelConfig(_ context.Context, cfgs map[string]model.ChannelConfig) []string {
	return s.registry.SetChannelConfig(cfgs)
}

func (s *BrokerService) LookupConnection(id uuid.UUID) (*registry.Connection, bool) {
	return s.registry.LookupConnection(id)
}

func (s *BrokerService) Info(cfg model.InfoConfig) model.InfoResponse {
	return s.registry.Info(cfg)
}

func (s *BrokerService) AdminInfo() model.ServerInfo {
	info := s.registry.AdminInfo()
	info.RecentlyReaped = s.reaped.Snapshot()
	return info
}

// broadcast pushes broker-generated envelopes onto the message topic so
// they are fanned out in publication order with everything else.
func (s *BrokerService) broadcast(ctx context.Context, envs []*model.Envelope) {
	for _, env := range envs {
		if err := s.dispatcher.Dispatch(ctx, pubsub.TopicMessages, env); err != nil {
			s.logger.Error("broadcast dispatch failed", "type", env.Type, "channel", env.Channel, "err", err)
		}
	}
}
