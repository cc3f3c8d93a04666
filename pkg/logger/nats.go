// Пакет logger содержит настройку структурированного лога и публикацию событий в NATS
package logger

import (
	"encoding/json"
	"fmt"
)

// Conn: минимальный интерфейс NATS-подключения, *nats.Conn ему соответствует
type Conn interface {
	Publish(subject string, data []byte) error
}

// NATSClient публикует сообщения в одну тему
type NATSClient struct {
	conn    Conn
	subject string
}

// NewClient создаёт NATSClient для темы subject
func NewClient(conn Conn, subject string) *NATSClient {
	return &NATSClient{conn: conn, subject: subject}
}

// Subject возвращает тему публикации
func (n *NATSClient) Subject() string {
	return n.subject
}

// Publish отправляет сырые байты в тему
func (n *NATSClient) Publish(data []byte) error {
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", n.subject, err)
	}
	return nil
}

// PublishJSON сериализует v в JSON и публикует одним сообщением
func (n *NATSClient) PublishJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return n.Publish(data)
}
