package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/five82/clanhub/internal/model"
)

// Phoenix channel events used by the realtime service.
const (
	eventJoin            = "phx_join"
	eventReply           = "phx_reply"
	eventError           = "phx_error"
	eventClose           = "phx_close"
	eventHeartbeat       = "heartbeat"
	eventPostgresChanges = "postgres_changes"
	eventSystem          = "system"
	eventAccessToken     = "access_token"

	heartbeatTopic = "phoenix"
	topicPrefix    = "realtime:public:"
)

// frame is one websocket message in either direction.
type frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

type joinPayload struct {
	Config      joinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

type joinConfig struct {
	PostgresChanges []postgresChange `json:"postgres_changes"`
}

type postgresChange struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type tokenPayload struct {
	AccessToken string `json:"access_token"`
}

type systemPayload struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// changeData accepts both the realtime wire shape (type/record/old_record)
// and the client-library shape (eventType/new/old).
type changeData struct {
	Table     string       `json:"table"`
	Type      string       `json:"type"`
	EventType string       `json:"eventType"`
	Record    model.Record `json:"record"`
	New       model.Record `json:"new"`
	OldRecord model.Record `json:"old_record"`
	Old       model.Record `json:"old"`
}

func topicFor(table model.Kind) string {
	return topicPrefix + string(table)
}

func tableFromTopic(topic string) model.Kind {
	if !strings.HasPrefix(topic, topicPrefix) {
		return ""
	}
	return model.Kind(strings.TrimPrefix(topic, topicPrefix))
}

// DecodeChange turns a postgres_changes payload into a table and a typed
// event. Operations other than insert, update and delete become
// model.Unknown. Only invalid JSON is reported as an error.
func DecodeChange(payload []byte) (model.Kind, model.Event, error) {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := decodeJSON(payload, &envelope); err != nil {
		return "", nil, fmt.Errorf("decode change payload: %w", err)
	}
	body := payload
	if len(envelope.Data) > 0 && !bytes.Equal(envelope.Data, []byte("null")) {
		body = envelope.Data
	}
	var data changeData
	if err := decodeJSON(body, &data); err != nil {
		return "", nil, fmt.Errorf("decode change data: %w", err)
	}

	table := model.Kind(data.Table)
	current := data.Record
	if current == nil {
		current = data.New
	}
	prior := data.OldRecord
	if prior == nil {
		prior = data.Old
	}

	op := data.Type
	if op == "" {
		op = data.EventType
	}
	switch strings.ToUpper(strings.TrimSpace(op)) {
	case "INSERT":
		return table, model.Insert{Record: current}, nil
	case "UPDATE":
		id := current.ID()
		if id == "" {
			id = prior.ID()
		}
		return table, model.Update{ID: id, Fields: current}, nil
	case "DELETE":
		id := prior.ID()
		if id == "" {
			id = current.ID()
		}
		return table, model.Delete{ID: id}, nil
	default:
		return table, model.Unknown{Type: op}, nil
	}
}

func decodeJSON(raw []byte, dest any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(dest)
}
