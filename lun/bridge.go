package lun

import "errors"

var ErrNoMessageHandler = errors.New("lun: no handler registered for message type")

// MessageHandler answers a GET MESSAGE(10)/SEND MESSAGE(10) exchange for
// one message type.
type MessageHandler interface {
	Get(function byte, phase byte) ([]byte, error)
	Send(function byte, phase byte, data []byte) error
}

// Bridge wraps a LUN attached to a host-bridge image (no backing file),
// dispatching GET/SEND MESSAGE(10) to per-type registered handlers.
type Bridge struct {
	*LUN

	handlers [8]MessageHandler
}

// Register attaches handler for messageType (0..7).
func (b *Bridge) Register(messageType byte, handler MessageHandler) {
	b.handlers[messageType&0x07] = handler
}

// RegisteredTypes renders the 8-byte INQUIRY extension: one ASCII '0' or
// '1' per message type indicating whether a handler is registered.
func (b *Bridge) RegisteredTypes() []byte {
	out := make([]byte, 8)
	for i, h := range b.handlers {
		if h != nil {
			out[i] = '1'
		} else {
			out[i] = '0'
		}
	}
	return out
}

// GetMessage10 dispatches a GET MESSAGE(10) CDB: byte 2 is the message
// type, byte 3 the function, byte 9 the phase.
func (b *Bridge) GetMessage10(cdb []byte) ([]byte, error) {
	messageType := cdb[2] & 0x07
	h := b.handlers[messageType]
	if h == nil {
		return nil, ErrNoMessageHandler
	}
	return h.Get(cdb[3], cdb[9])
}

// SendMessage10 dispatches a SEND MESSAGE(10) CDB the same way, with the
// payload already collected by the data-out phase.
func (b *Bridge) SendMessage10(cdb []byte, data []byte) error {
	messageType := cdb[2] & 0x07
	h := b.handlers[messageType]
	if h == nil {
		return ErrNoMessageHandler
	}
	return h.Send(cdb[3], cdb[9], data)
}
