package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channelstream/channelstream/config"
	httpsrv "github.com/channelstream/channelstream/infra/server/http"
	"github.com/channelstream/channelstream/internal/adapter/pubsub"
	"github.com/channelstream/channelstream/internal/domain/model"
	"github.com/channelstream/channelstream/internal/domain/registry"
	"github.com/channelstream/channelstream/internal/handler/httpapi"
	"github.com/channelstream/channelstream/internal/metrics"
	"github.com/channelstream/channelstream/internal/service"
)

const (
	testSecret    = "secret"
	testAdminUser = "admin"
	testAdminPass = "adminpass"
)

// syncDispatcher replaces the bus with a direct call into the fan-out
// service, so endpoint tests observe deliveries deterministically.
type syncDispatcher struct {
	fan service.Distributor
}

func (d syncDispatcher) Dispatch(ctx context.Context, topic string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	switch topic {
	case pubsub.TopicMessages:
		var env model.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return err
		}
		d.fan.PassMessage(ctx, &env)
	case pubsub.TopicMessageEdits:
		var edit model.MessageEdit
		if err := json.Unmarshal(raw, &edit); err != nil {
			return err
		}
		d.fan.EditMessage(ctx, edit)
	case pubsub.TopicMessageDeletes:
		var del model.MessageDelete
		if err := json.Unmarshal(raw, &del); err != nil {
			return err
		}
		d.fan.DeleteMessage(ctx, del)
	default:
		return fmt.Errorf("unexpected topic %s", topic)
	}
	return nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{
			Secret:      testSecret,
			AdminUser:   testAdminUser,
			AdminSecret: testAdminPass,
		},
		Broker: config.BrokerConfig{
			WakeConnectionsAfter: 200 * time.Millisecond,
			DrainTimeout:         20 * time.Millisecond,
			GCConnsAfter:         time.Hour,
			GCInterval:           time.Hour,
			QueueSize:            16,
		},
		Metrics: config.MetricsConfig{Enabled: true, Endpoint: "/metrics"},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.NewRegistry(registry.WithQueueSize(cfg.Broker.QueueSize))
	m := metrics.NewRegistry()
	fan := service.NewFanoutService(reg, m, logger)
	broker := service.NewBrokerService(reg, syncDispatcher{fan: fan}, service.NewReapedLog(), logger)

	srv := httpsrv.NewServer(cfg, logger)
	httpapi.RegisterRoutes(srv, httpapi.NewAPI(broker, cfg, logger), cfg, m)

	ts := httptest.NewServer(srv.Router)
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body any, secret bool) (int, []byte) {
	t.Helper()

	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, payload)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if secret {
		req.Header.Set(httpapi.SecretHeader, testSecret)
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

type connectResponse struct {
	ConnID      string                     `json:"conn_id"`
	Username    string                     `json:"username"`
	Channels    []string                   `json:"channels"`
	State       map[string]json.RawMessage `json:"state"`
	PublicState map[string]json.RawMessage `json:"public_state"`
}

func connect(t *testing.T, ts *httptest.Server, username string, channels []string, extra map[string]any) connectResponse {
	t.Helper()

	body := map[string]any{"username": username, "channels": channels}
	for k, v := range extra {
		body[k] = v
	}
	status, raw := doJSON(t, ts, http.MethodPost, "/connect", body, true)
	require.Equal(t, http.StatusOK, status, string(raw))

	var res connectResponse
	require.NoError(t, json.Unmarshal(raw, &res))
	require.NotEmpty(t, res.ConnID)
	return res
}

func listen(t *testing.T, ts *httptest.Server, connID string) []model.Envelope {
	t.Helper()
	status, raw := doJSON(t, ts, http.MethodGet, "/listen?conn_id="+connID, nil, false)
	require.Equal(t, http.StatusOK, status, string(raw))

	var envs []model.Envelope
	require.NoError(t, json.Unmarshal(raw, &envs))
	return envs
}

func TestControlPlaneRequiresSecret(t *testing.T) {
	ts := newTestServer(t)

	status, _ := doJSON(t, ts, http.MethodPost, "/connect", map[string]any{"username": "alice"}, false)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = doJSON(t, ts, http.MethodPost, "/info", nil, false)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestConnectValidation(t *testing.T) {
	ts := newTestServer(t)

	status, raw := doJSON(t, ts, http.MethodPost, "/connect", map[string]any{}, true)
	require.Equal(t, http.StatusUnprocessableEntity, status)

	var res struct {
		Errors map[string]string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Contains(t, res.Errors, "username")

	status, _ = doJSON(t, ts, http.MethodPost, "/connect",
		map[string]any{"username": "alice", "conn_id": "not-a-uuid"}, true)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestBasicFanout(t *testing.T) {
	ts := newTestServer(t)

	alice := connect(t, ts, "alice", []string{"pub_chan"}, nil)
	bob := connect(t, ts, "bob", []string{"pub_chan"}, nil)

	status, raw := doJSON(t, ts, http.MethodPost, "/message", []map[string]any{
		{"channel": "pub_chan", "user": "alice", "message": map[string]any{"text": "hi"}},
	}, true)
	require.Equal(t, http.StatusOK, status, string(raw))

	var accepted []model.Envelope
	require.NoError(t, json.Unmarshal(raw, &accepted))
	require.Len(t, accepted, 1)
	require.False(t, accepted[0].Timestamp.IsZero(), "timestamp is server-assigned")

	for _, conn := range []string{alice.ConnID, bob.ConnID} {
		envs := listen(t, ts, conn)
		require.Len(t, envs, 1)
		assert.Equal(t, accepted[0].UUID, envs[0].UUID)
		assert.JSONEq(t, `{"text":"hi"}`, string(envs[0].Message))
	}

	// Nothing new queued: the next poll is empty.
	assert.Empty(t, listen(t, ts, alice.ConnID))
}

func TestListenUnknownConnection(t *testing.T) {
	ts := newTestServer(t)

	status, _ := doJSON(t, ts, http.MethodGet, "/listen?conn_id=6b2f7f5e-0000-0000-0000-000000000000", nil, false)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = doJSON(t, ts, http.MethodGet, "/listen?conn_id=garbage", nil, false)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestListenJSONP(t *testing.T) {
	ts := newTestServer(t)
	alice := connect(t, ts, "alice", []string{"pub_chan"}, nil)

	doJSON(t, ts, http.MethodPost, "/message", []map[string]any{
		{"channel": "pub_chan", "user": "alice", "message": map[string]any{"text": "hi"}},
	}, true)

	status, raw := doJSON(t, ts, http.MethodGet, "/listen?conn_id="+alice.ConnID+"&callback=cb", nil, false)
	require.Equal(t, http.StatusOK, status)
	body := string(raw)
	assert.True(t, strings.HasPrefix(body, "cb(["), body)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(body), ");"), body)

	status, _ = doJSON(t, ts, http.MethodGet, "/listen?conn_id="+alice.ConnID+"&callback=alert(1)", nil, false)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestPrivateMessage(t *testing.T) {
	ts := newTestServer(t)

	alice := connect(t, ts, "alice", []string{"pub_chan"}, nil)
	carol := connect(t, ts, "carol", nil, nil)

	status, _ := doJSON(t, ts, http.MethodPost, "/message", []map[string]any{
		{"pm_users": []string{"carol"}, "user": "alice", "message": map[string]any{"text": "hey"}, "no_history": true},
	}, true)
	require.Equal(t, http.StatusOK, status)

	envs := listen(t, ts, carol.ConnID)
	require.Len(t, envs, 1)
	assert.JSONEq(t, `{"text":"hey"}`, string(envs[0].Message))

	assert.Empty(t, listen(t, ts, alice.ConnID))
}

func TestEditPropagation(t *testing.T) {
	ts := newTestServer(t)

	cfgs := map[string]any{
		"channel_configs": map[string]any{
			"pub_chan": map[string]any{"store_history": true, "history_size": 10},
		},
	}
	alice := connect(t, ts, "alice", []string{"pub_chan"}, cfgs)

	u := "7d444840-9dc0-11d1-b245-5ffdce74fad2"
	status, _ := doJSON(t, ts, http.MethodPost, "/message", []map[string]any{
		{"uuid": u, "channel": "pub_chan", "user": "alice", "message": map[string]any{"text": "original"}},
	}, true)
	require.Equal(t, http.StatusOK, status)
	listen(t, ts, alice.ConnID)

	status, _ = doJSON(t, ts, http.MethodPatch, "/message", []map[string]any{
		{"uuid": u, "channel": "pub_chan", "user": "alice", "message": map[string]any{"text": "edited"}},
	}, true)
	require.Equal(t, http.StatusOK, status)

	envs := listen(t, ts, alice.ConnID)
	require.Len(t, envs, 1)
	assert.Equal(t, model.TypeMessageEdit, envs[0].Type)
	assert.Equal(t, u, envs[0].UUID.String())
	assert.JSONEq(t, `{"text":"edited"}`, string(envs[0].Message))

	status, raw := doJSON(t, ts, http.MethodPost, "/info",
		map[string]any{"channels": []string{"pub_chan"}}, true)
	require.Equal(t, http.StatusOK, status)

	var info model.InfoResponse
	require.NoError(t, json.Unmarshal(raw, &info))
	history := info.Channels["pub_chan"].History
	require.Len(t, history, 1)
	assert.Equal(t, u, history[0].UUID.String())
	assert.JSONEq(t, `{"text":"edited"}`, string(history[0].Message))
	assert.NotNil(t, history[0].Edited)
}

func TestDeletePropagation(t *testing.T) {
	ts := newTestServer(t)

	cfgs := map[string]any{
		"channel_configs": map[string]any{
			"pub_chan": map[string]any{"store_history": true, "history_size": 10},
		},
	}
	alice := connect(t, ts, "alice", []string{"pub_chan"}, cfgs)

	u := "7d444840-9dc0-11d1-b245-5ffdce74fad2"
	doJSON(t, ts, http.MethodPost, "/message", []map[string]any{
		{"uuid": u, "channel": "pub_chan", "user": "alice", "message": map[string]any{"text": "bye"}},
	}, true)
	listen(t, ts, alice.ConnID)

	status, _ := doJSON(t, ts, http.MethodDelete, "/message", []map[string]any{
		{"uuid": u, "channel": "pub_chan"},
	}, true)
	require.Equal(t, http.StatusOK, status)

	envs := listen(t, ts, alice.ConnID)
	require.Len(t, envs, 1)
	assert.Equal(t, model.TypeMessageDelete, envs[0].Type)

	status, raw := doJSON(t, ts, http.MethodPost, "/info",
		map[string]any{"channels": []string{"pub_chan"}}, true)
	require.Equal(t, http.StatusOK, status)

	var info model.InfoResponse
	require.NoError(t, json.Unmarshal(raw, &info))
	assert.Empty(t, info.Channels["pub_chan"].History)
}

func TestUserStateEndpoint(t *testing.T) {
	ts := newTestServer(t)
	connect(t, ts, "alice", nil, nil)

	status, raw := doJSON(t, ts, http.MethodPost, "/user_state", map[string]any{
		"user":              "alice",
		"user_state":        map[string]any{"color": "red", "secret": 1},
		"state_public_keys": []string{"color"},
	}, true)
	require.Equal(t, http.StatusOK, status, string(raw))

	var res struct {
		UserState    map[string]json.RawMessage `json:"user_state"`
		ChangedState []model.StateChange        `json:"changed_state"`
		PublicKeys   []string                   `json:"public_keys"`
	}
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Len(t, res.ChangedState, 2)
	assert.Equal(t, []string{"color"}, res.PublicKeys)
	assert.JSONEq(t, `"red"`, string(res.UserState["color"]))

	// Unknown users are a silent no-op.
	status, raw = doJSON(t, ts, http.MethodPost, "/user_state", map[string]any{
		"user":       "ghost",
		"user_state": map[string]any{"a": 1},
	}, true)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Empty(t, res.UserState)
	assert.Empty(t, res.ChangedState)
}

func TestChannelConfigEndpoint(t *testing.T) {
	ts := newTestServer(t)

	status, raw := doJSON(t, ts, http.MethodPost, "/channel_config", map[string]any{
		"pub_chan": map[string]any{"store_history": true, "history_size": 5, "notify_presence": true},
	}, true)
	require.Equal(t, http.StatusOK, status, string(raw))

	var info model.InfoResponse
	require.NoError(t, json.Unmarshal(raw, &info))
	require.Contains(t, info.Channels, "pub_chan")
	settings := info.Channels["pub_chan"].Settings
	assert.True(t, settings.StoreHistory)
	assert.True(t, settings.NotifyPresence)
	assert.Equal(t, 5, settings.HistorySize)
}

func TestInfoEmptyBodyListsEverything(t *testing.T) {
	ts := newTestServer(t)
	alice := connect(t, ts, "alice", []string{"a_chan", "b_chan"}, nil)

	status, raw := doJSON(t, ts, http.MethodPost, "/info", nil, true)
	require.Equal(t, http.StatusOK, status)

	var info model.InfoResponse
	require.NoError(t, json.Unmarshal(raw, &info))
	assert.Len(t, info.Channels, 2)
	require.Len(t, info.Users, 1)
	assert.Contains(t, info.Users[0].Connections, alice.ConnID,
		"empty body implies include_connections")
}

func TestDisconnectEndpoint(t *testing.T) {
	ts := newTestServer(t)
	alice := connect(t, ts, "alice", []string{"pub_chan"}, nil)

	status, raw := doJSON(t, ts, http.MethodPost, "/disconnect", map[string]any{"conn_id": alice.ConnID}, false)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "true", strings.TrimSpace(string(raw)))

	status, _ = doJSON(t, ts, http.MethodGet, "/listen?conn_id="+alice.ConnID, nil, false)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = doJSON(t, ts, http.MethodGet, "/disconnect?conn_id="+alice.ConnID, nil, false)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAdminEndpointAuth(t *testing.T) {
	ts := newTestServer(t)
	connect(t, ts, "alice", []string{"pub_chan"}, nil)

	status, _ := doJSON(t, ts, http.MethodGet, "/admin/admin.json", nil, false)
	assert.Equal(t, http.StatusUnauthorized, status)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/admin/admin.json", nil)
	require.NoError(t, err)
	req.SetBasicAuth(testAdminUser, testAdminPass)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info model.ServerInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, 1, info.UniqueUserCount)
	assert.Equal(t, 1, info.TotalChannels)
	assert.NotEmpty(t, info.Uptime)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "channelstream_messages_published_total")
}
