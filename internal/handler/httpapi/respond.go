package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/channelstream/channelstream/internal/domain/model"
)

// ValidationErrors is the field-level error map returned on malformed
// control-plane payloads.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	return fmt.Sprintf("validation failed: %v", map[string]string(v))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeValidationErrors(w http.ResponseWriter, errs ValidationErrors) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": errs})
}

func writeUnauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unknown connection"})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// parseChannelConfigs decodes raw per-channel configs over the broker
// defaults, so omitted keys keep their documented values.
func parseChannelConfigs(raw map[string]json.RawMessage) (map[string]model.ChannelConfig, ValidationErrors) {
	out := make(map[string]model.ChannelConfig, len(raw))
	for name, rc := range raw {
		cfg := model.DefaultChannelConfig()
		if err := json.Unmarshal(rc, &cfg); err != nil {
			return nil, ValidationErrors{"channel_configs." + name: err.Error()}
		}
		out[name] = cfg
	}
	return out, nil
}

// parseInfoConfig decodes the optional per-request info options over
// the defaults.
func parseInfoConfig(raw json.RawMessage) (model.InfoConfig, error) {
	cfg := model.DefaultInfoConfig()
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
