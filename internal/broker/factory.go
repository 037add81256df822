package broker

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/darkevergard3n/grafana-lab-webapp/internal/config"
)

// TopologyFromConfig builds the topology declared on Connect.
func TopologyFromConfig(cfg *config.Config) Topology {
	return Topology{
		Exchange: cfg.Exchange,
		Queue:    cfg.Queue,
		Binding:  cfg.Binding,
	}
}

// NewClient creates a Client based on BROKER_KIND. RabbitMQ is the default;
// Kafka and the in-memory broker are alternatives for other deployments and
// local development.
func NewClient(cfg *config.Config, log zerolog.Logger) (Client, error) {
	topo := TopologyFromConfig(cfg)

	switch cfg.BrokerKind {
	case "amqp", "":
		log.Info().Str("kind", "amqp").Msg("using RabbitMQ broker")
		return NewAMQPClient(cfg.RabbitMQURL, topo, log), nil
	case "kafka":
		brokers := cfg.KafkaBrokerList()
		log.Info().Str("kind", "kafka").Strs("brokers", brokers).Str("group", cfg.KafkaGroup).Msg("using Kafka broker")
		return NewKafkaClient(KafkaConfig{Brokers: brokers, ConsumerGroup: cfg.KafkaGroup}, topo, log)
	case "memory":
		log.Warn().Str("kind", "memory").Msg("using in-memory broker; events do not leave this process")
		return NewInMemoryBroker(topo), nil
	default:
		return nil, fmt.Errorf("unsupported broker kind %q", cfg.BrokerKind)
	}
}
