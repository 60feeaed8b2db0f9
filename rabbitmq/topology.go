package rabbitmq

// ExchangeDeclareOptions configures exchange declaration
type ExchangeDeclareOptions struct {
	Durable    bool
	AutoDelete bool
	Internal   bool
	NoWait     bool
	Args       Table
}

// ExchangeDeleteOptions configures exchange deletion
type ExchangeDeleteOptions struct {
	IfUnused bool
	NoWait   bool
}

// QueueDeclareOptions configures queue declaration
type QueueDeclareOptions struct {
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	NoWait     bool
	Args       Table
}

// QueueDeleteOptions configures queue deletion
type QueueDeleteOptions struct {
	IfUnused bool
	IfEmpty  bool
	NoWait   bool
}

// ExchangeDeclare declares an exchange and records it for topology recovery
func (ch *Channel) ExchangeDeclare(name, kind string, opts ExchangeDeclareOptions) error {
	if ch.GetState() != ChannelStateOpen {
		return ErrChannelClosed
	}

	err := ch.underlying().ExchangeDeclare(name, kind, opts.Durable, opts.AutoDelete, opts.Internal, opts.NoWait, opts.Args)
	if err != nil {
		return wrapAMQPError(err)
	}

	ch.conn.recovery.topology.recordExchange(name, kind, opts)
	return nil
}

// ExchangeDeclarePassive checks that an exchange exists. Passive declares
// never touch the recorded topology.
func (ch *Channel) ExchangeDeclarePassive(name, kind string) error {
	if ch.GetState() != ChannelStateOpen {
		return ErrChannelClosed
	}
	err := ch.underlying().ExchangeDeclarePassive(name, kind, false, false, false, false, nil)
	return wrapAMQPError(err)
}

// ExchangeDelete deletes an exchange. The record and any bindings attached to
// the exchange are removed synchronously, so they can never reappear through
// a later recovery.
func (ch *Channel) ExchangeDelete(name string, opts ExchangeDeleteOptions) error {
	if ch.GetState() != ChannelStateOpen {
		return ErrChannelClosed
	}

	ch.conn.recovery.topology.deleteExchange(name)

	err := ch.underlying().ExchangeDelete(name, opts.IfUnused, opts.NoWait)
	return wrapAMQPError(err)
}

// ExchangeBind binds an exchange to another exchange and records the edge
func (ch *Channel) ExchangeBind(destination, source, routingKey string, args Table) error {
	if ch.GetState() != ChannelStateOpen {
		return ErrChannelClosed
	}

	err := ch.underlying().ExchangeBind(destination, routingKey, source, false, args)
	if err != nil {
		return wrapAMQPError(err)
	}

	ch.conn.recovery.topology.recordBinding(&recordedBinding{
		destination: destination,
		destQueue:   false,
		source:      source,
		routingKey:  routingKey,
		args:        args,
	})
	return nil
}

// ExchangeUnbind unbinds an exchange from another exchange. The edge record
// is removed synchronously and is never replayed again.
func (ch *Channel) ExchangeUnbind(destination, source, routingKey string, args Table) error {
	if ch.GetState() != ChannelStateOpen {
		return ErrChannelClosed
	}

	ch.conn.recovery.topology.deleteBinding(destination, false, source, routingKey)

	err := ch.underlying().ExchangeUnbind(destination, routingKey, source, false, args)
	return wrapAMQPError(err)
}

// QueueDeclare declares a queue and records it for topology recovery. An
// empty name asks the server to generate one; such queues come back under a
// fresh server-generated name after every recovery.
func (ch *Channel) QueueDeclare(name string, opts QueueDeclareOptions) (Queue, error) {
	if ch.GetState() != ChannelStateOpen {
		return Queue{}, ErrChannelClosed
	}

	serverNamed := name == ""
	res, err := ch.underlying().QueueDeclare(name, opts.Durable, opts.AutoDelete, opts.Exclusive, opts.NoWait, opts.Args)
	if err != nil {
		return Queue{}, wrapAMQPError(err)
	}

	ch.conn.recovery.topology.recordQueue(&recordedQueue{
		name:        res.Name,
		opts:        opts,
		serverNamed: serverNamed,
		ch:          ch,
	})

	return Queue{
		Name:      res.Name,
		Messages:  res.Messages,
		Consumers: res.Consumers,
	}, nil
}

// QueueDeclarePassive checks that a queue exists without mutating the
// recorded topology
func (ch *Channel) QueueDeclarePassive(name string) (Queue, error) {
	if ch.GetState() != ChannelStateOpen {
		return Queue{}, ErrChannelClosed
	}
	res, err := ch.underlying().QueueDeclarePassive(name, false, false, false, false, nil)
	if err != nil {
		return Queue{}, wrapAMQPError(err)
	}
	return Queue{
		Name:      res.Name,
		Messages:  res.Messages,
		Consumers: res.Consumers,
	}, nil
}

// QueueDelete deletes a queue. The queue record and its bindings are removed
// synchronously.
func (ch *Channel) QueueDelete(name string, opts QueueDeleteOptions) (int, error) {
	if ch.GetState() != ChannelStateOpen {
		return 0, ErrChannelClosed
	}

	ch.conn.recovery.topology.deleteQueue(name)

	purged, err := ch.underlying().QueueDelete(name, opts.IfUnused, opts.IfEmpty, opts.NoWait)
	if err != nil {
		return 0, wrapAMQPError(err)
	}
	return purged, nil
}

// QueueBind binds a queue to an exchange and records the edge
func (ch *Channel) QueueBind(name, exchange, routingKey string, args Table) error {
	if ch.GetState() != ChannelStateOpen {
		return ErrChannelClosed
	}

	err := ch.underlying().QueueBind(name, routingKey, exchange, false, args)
	if err != nil {
		return wrapAMQPError(err)
	}

	ch.conn.recovery.topology.recordBinding(&recordedBinding{
		destination: name,
		destQueue:   true,
		source:      exchange,
		routingKey:  routingKey,
		args:        args,
	})
	return nil
}

// QueueUnbind unbinds a queue from an exchange. The edge record is removed
// synchronously and is never replayed again, across any number of recovery
// cycles.
func (ch *Channel) QueueUnbind(name, exchange, routingKey string, args Table) error {
	if ch.GetState() != ChannelStateOpen {
		return ErrChannelClosed
	}

	ch.conn.recovery.topology.deleteBinding(name, true, exchange, routingKey)

	err := ch.underlying().QueueUnbind(name, routingKey, exchange, args)
	return wrapAMQPError(err)
}

// QueuePurge purges all messages from a queue
func (ch *Channel) QueuePurge(name string, noWait bool) (int, error) {
	if ch.GetState() != ChannelStateOpen {
		return 0, ErrChannelClosed
	}
	purged, err := ch.underlying().QueuePurge(name, noWait)
	if err != nil {
		return 0, wrapAMQPError(err)
	}
	return purged, nil
}
