package redisstream

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

const (
	fieldUUID     = "uuid"
	fieldPayload  = "payload"
	fieldMetadata = "metadata"
)

func marshalMessage(msg *message.Message) (map[string]any, error) {
	metadata, err := sonic.Marshal(map[string]string(msg.Metadata))
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return map[string]any{
		fieldUUID:     msg.UUID,
		fieldPayload:  string(msg.Payload),
		fieldMetadata: string(metadata),
	}, nil
}

func unmarshalMessage(entry redis.XMessage) (*message.Message, error) {
	uuid, _ := entry.Values[fieldUUID].(string)
	if uuid == "" {
		uuid = entry.ID
	}
	payload, _ := entry.Values[fieldPayload].(string)

	msg := message.NewMessage(uuid, []byte(payload))
	if raw, _ := entry.Values[fieldMetadata].(string); raw != "" {
		md := map[string]string{}
		if err := sonic.UnmarshalString(raw, &md); err != nil {
			return nil, fmt.Errorf("unmarshal metadata of %s: %w", entry.ID, err)
		}
		for k, v := range md {
			msg.Metadata.Set(k, v)
		}
	}
	return msg, nil
}
