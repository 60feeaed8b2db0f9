package rabbitmq

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// Delivery represents a message delivered to a consumer
type Delivery struct {
	Properties Properties
	Body       []byte

	ConsumerTag string
	DeliveryTag uint64
	Redelivered bool
	Exchange    string
	RoutingKey  string

	ch *Channel
}

// Ack acknowledges the delivery
func (d *Delivery) Ack(multiple bool) error {
	return d.ch.BasicAck(d.DeliveryTag, multiple)
}

// Nack negatively acknowledges the delivery
func (d *Delivery) Nack(multiple, requeue bool) error {
	return d.ch.BasicNack(d.DeliveryTag, multiple, requeue)
}

// Reject rejects the delivery
func (d *Delivery) Reject(requeue bool) error {
	return d.ch.BasicReject(d.DeliveryTag, requeue)
}

// newDelivery converts a delivery from the wrapped client
func newDelivery(ch *Channel, d amqp.Delivery) Delivery {
	return Delivery{
		Properties: Properties{
			ContentType:     d.ContentType,
			ContentEncoding: d.ContentEncoding,
			Headers:         d.Headers,
			DeliveryMode:    d.DeliveryMode,
			Priority:        d.Priority,
			CorrelationID:   d.CorrelationId,
			ReplyTo:         d.ReplyTo,
			Expiration:      d.Expiration,
			MessageID:       d.MessageId,
			Timestamp:       d.Timestamp,
			Type:            d.Type,
			UserID:          d.UserId,
			AppID:           d.AppId,
		},
		Body:        d.Body,
		ConsumerTag: d.ConsumerTag,
		DeliveryTag: d.DeliveryTag,
		Redelivered: d.Redelivered,
		Exchange:    d.Exchange,
		RoutingKey:  d.RoutingKey,
		ch:          ch,
	}
}

// GetResponse is the result of a BasicGet
type GetResponse struct {
	Delivery
	MessageCount int
}

// Queue describes a declared queue
type Queue struct {
	Name      string
	Messages  int
	Consumers int
}
