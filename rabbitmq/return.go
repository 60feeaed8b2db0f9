package rabbitmq

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// Return is a message the server could not route, handed back to the
// publisher of a mandatory or immediate publish
type Return struct {
	ReplyCode  uint16
	ReplyText  string
	Exchange   string
	RoutingKey string
	Properties Properties
	Body       []byte
}

// NotifyReturn registers a listener for returned messages. The listener
// channel is bound to the current channel incarnation; amqp091 closes it
// when the channel is torn down, so re-register from a recovery listener if
// returns must survive recovery.
func (ch *Channel) NotifyReturn(c chan Return) chan Return {
	inner := make(chan amqp.Return, cap(c))
	ch.underlying().NotifyReturn(inner)

	go func() {
		defer close(c)
		for ret := range inner {
			ch.conn.metrics.MessageReturned()
			c <- Return{
				ReplyCode:  ret.ReplyCode,
				ReplyText:  ret.ReplyText,
				Exchange:   ret.Exchange,
				RoutingKey: ret.RoutingKey,
				Properties: propertiesFromAMQP(ret),
				Body:       ret.Body,
			}
		}
	}()
	return c
}

func propertiesFromAMQP(ret amqp.Return) Properties {
	return Properties{
		ContentType:     ret.ContentType,
		ContentEncoding: ret.ContentEncoding,
		DeliveryMode:    ret.DeliveryMode,
		Priority:        ret.Priority,
		CorrelationID:   ret.CorrelationId,
		ReplyTo:         ret.ReplyTo,
		Expiration:      ret.Expiration,
		MessageID:       ret.MessageId,
		Timestamp:       ret.Timestamp,
		Type:            ret.Type,
		UserID:          ret.UserId,
		AppID:           ret.AppId,
		Headers:         Table(ret.Headers),
	}
}
