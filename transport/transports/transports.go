// Package transports imports all built-in transports for auto-registration.
// Import this package to have all transports registered with the default registry.
package transports

import (
	_ "github.com/drblury/tagflow/transport/aws"
	_ "github.com/drblury/tagflow/transport/channel"
	_ "github.com/drblury/tagflow/transport/http"
	_ "github.com/drblury/tagflow/transport/kafka"
	_ "github.com/drblury/tagflow/transport/nats"
	_ "github.com/drblury/tagflow/transport/rabbitmq"
	_ "github.com/drblury/tagflow/transport/redisstream"
)
