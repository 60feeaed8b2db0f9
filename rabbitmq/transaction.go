package rabbitmq

// TxSelect puts the channel into transaction mode. Transaction mode is not
// re-applied after recovery; messages staged in an uncommitted transaction
// are lost with the connection and cannot be replayed faithfully.
func (ch *Channel) TxSelect() error {
	if ch.GetState() != ChannelStateOpen {
		return ErrChannelClosed
	}
	if err := ch.underlying().Tx(); err != nil {
		return wrapAMQPError(err)
	}
	return nil
}

// TxCommit commits the current transaction
func (ch *Channel) TxCommit() error {
	if ch.GetState() != ChannelStateOpen {
		return ErrChannelClosed
	}
	if err := ch.underlying().TxCommit(); err != nil {
		return wrapAMQPError(err)
	}
	return nil
}

// TxRollback rolls back the current transaction
func (ch *Channel) TxRollback() error {
	if ch.GetState() != ChannelStateOpen {
		return ErrChannelClosed
	}
	if err := ch.underlying().TxRollback(); err != nil {
		return wrapAMQPError(err)
	}
	return nil
}
