package infra

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/congo-pay/streampay/internal/events"
)

// NewEventPublisher connects to NATS when url is set and otherwise logs
// stream events.
func NewEventPublisher(url, appName string, logger *slog.Logger) (events.Publisher, error) {
	if url == "" {
		return events.NewLogPublisher(logger), nil
	}
	pub, err := events.NewNATSPublisher(url,
		nats.Name(appName),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return pub, nil
}
