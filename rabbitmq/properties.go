package rabbitmq

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Table is an AMQP field table, used for declaration arguments, binding
// arguments and message headers
type Table = amqp.Table

// Publishing describes an outgoing message
type Publishing struct {
	// Message properties
	ContentType     string
	ContentEncoding string
	Headers         Table
	DeliveryMode    uint8 // 1 = transient, 2 = persistent
	Priority        uint8
	CorrelationID   string
	ReplyTo         string
	Expiration      string
	MessageID       string
	Timestamp       time.Time
	Type            string
	UserID          string
	AppID           string

	// Message payload
	Body []byte
}

// DeliveryMode values for Publishing
const (
	Transient  uint8 = 1
	Persistent uint8 = 2
)

// toAMQP converts the message to the wrapped client's publishing type
func (p Publishing) toAMQP() amqp.Publishing {
	return amqp.Publishing{
		ContentType:     p.ContentType,
		ContentEncoding: p.ContentEncoding,
		Headers:         p.Headers,
		DeliveryMode:    p.DeliveryMode,
		Priority:        p.Priority,
		CorrelationId:   p.CorrelationID,
		ReplyTo:         p.ReplyTo,
		Expiration:      p.Expiration,
		MessageId:       p.MessageID,
		Timestamp:       p.Timestamp,
		Type:            p.Type,
		UserId:          p.UserID,
		AppId:           p.AppID,
		Body:            p.Body,
	}
}

// Properties holds the properties of a received message
type Properties struct {
	ContentType     string
	ContentEncoding string
	Headers         Table
	DeliveryMode    uint8
	Priority        uint8
	CorrelationID   string
	ReplyTo         string
	Expiration      string
	MessageID       string
	Timestamp       time.Time
	Type            string
	UserID          string
	AppID           string
}
