package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"topup-backend/internal/config"
	"topup-backend/internal/metrics"
	"topup-backend/internal/models"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// NATSClient publishes deposit phase events
type NATSClient struct {
	conn          *nats.Conn
	subjectPrefix string
	logger        *logrus.Logger
}

// NewNATSClient connects to the NATS server
func NewNATSClient(cfg config.NATSConfig, logger *logrus.Logger) (*NATSClient, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	connectTimeout := 10 * time.Second
	if cfg.Timeout > 0 {
		connectTimeout = time.Duration(cfg.Timeout) * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("topup-backend"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.WithError(err).Warn("⚠️ NATS disconnected")
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithField("url", nc.ConnectedUrl()).Info("✅ NATS reconnected")
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		metrics.NATSConnectionStatus.Set(0)
		return nil, fmt.Errorf("connect to NATS %s: %w", cfg.URL, err)
	}
	metrics.NATSConnectionStatus.Set(1)

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "topup"
	}
	logger.WithFields(logrus.Fields{"url": cfg.URL, "prefix": prefix}).Info("✅ NATS connected")

	return &NATSClient{conn: conn, subjectPrefix: prefix, logger: logger}, nil
}

// DepositSubject subject for a phase event: <prefix>.<chainId>.<phase>
func DepositSubject(prefix string, chainID int64, phase models.DepositPhase) string {
	return fmt.Sprintf("%s.%d.%s", prefix, chainID, phase)
}

// PublishDepositPhase publishes the event on its phase subject
func (c *NATSClient) PublishDepositPhase(ctx context.Context, event models.DepositPhaseEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal deposit event: %w", err)
	}
	subject := DepositSubject(c.subjectPrefix, event.ChainID, event.Phase)
	if err := c.conn.Publish(subject, payload); err != nil {
		metrics.NATSMessagesPublished.WithLabelValues(string(event.Phase), "error").Inc()
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	metrics.NATSMessagesPublished.WithLabelValues(string(event.Phase), "ok").Inc()
	c.logger.WithFields(logrus.Fields{"subject": subject, "deposit_id": event.DepositID}).Debug("📤 Deposit event published")
	return nil
}

// IsConnected reports the connection state
func (c *NATSClient) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains and closes the connection
func (c *NATSClient) Close() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
	metrics.NATSConnectionStatus.Set(0)
}
