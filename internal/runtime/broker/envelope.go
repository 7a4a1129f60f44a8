package broker

import (
	"strconv"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/tagflow/internal/runtime/ids"
	metadatapkg "github.com/drblury/tagflow/internal/runtime/metadata"
	"github.com/drblury/tagflow/internal/runtime/mq"
)

// Metadata keys used for broker bookkeeping. User properties never carry the
// prefix; it is stripped when a message is turned back into an envelope.
const (
	MetadataPrefix         = "tagflow_"
	MetadataTag            = MetadataPrefix + "tag"
	MetadataKeys           = MetadataPrefix + "keys"
	MetadataTopic          = MetadataPrefix + "topic"
	MetadataReconsumeTimes = MetadataPrefix + "reconsume_times"
	MetadataBornAt         = MetadataPrefix + "born_at"
	MetadataOriginTopic    = MetadataPrefix + "origin_topic"
	MetadataOriginGroup    = MetadataPrefix + "origin_group"
)

// ToMessage converts env into a Watermill message. An empty ID is replaced by
// a fresh ULID and a zero BornAt by the current time.
func ToMessage(env *mq.Envelope) *message.Message {
	id := env.ID
	if id == "" {
		id = ids.CreateULID()
	}
	bornAt := env.BornAt
	if bornAt.IsZero() {
		bornAt = time.Now()
	}

	msg := message.NewMessage(id, env.Body)
	msg.Metadata = metadatapkg.ToWatermill(env.Properties.Without(MetadataPrefix))
	msg.Metadata.Set(MetadataTopic, env.Topic)
	msg.Metadata.Set(MetadataBornAt, strconv.FormatInt(bornAt.UnixMilli(), 10))
	if env.Tag != "" {
		msg.Metadata.Set(MetadataTag, env.Tag)
	}
	if len(env.Keys) > 0 {
		msg.Metadata.Set(MetadataKeys, env.KeysString())
	}
	if env.ReconsumeTimes > 0 {
		msg.Metadata.Set(MetadataReconsumeTimes, strconv.Itoa(env.ReconsumeTimes))
	}
	return msg
}

// FromMessage converts a received message into an envelope. topic is used when
// the message carries no topic of its own.
func FromMessage(msg *message.Message, topic string) *mq.Envelope {
	env := &mq.Envelope{
		Topic:      msg.Metadata.Get(MetadataTopic),
		Tag:        msg.Metadata.Get(MetadataTag),
		ID:         msg.UUID,
		Body:       msg.Payload,
		Properties: metadatapkg.FromWatermill(msg.Metadata).Without(MetadataPrefix),
	}
	if env.Topic == "" {
		env.Topic = topic
	}
	if keys := msg.Metadata.Get(MetadataKeys); keys != "" {
		env.Keys = strings.Fields(keys)
	}
	if n, err := strconv.Atoi(msg.Metadata.Get(MetadataReconsumeTimes)); err == nil && n > 0 {
		env.ReconsumeTimes = n
	}
	if ms, err := strconv.ParseInt(msg.Metadata.Get(MetadataBornAt), 10, 64); err == nil {
		env.BornAt = time.UnixMilli(ms)
	}
	return env
}
