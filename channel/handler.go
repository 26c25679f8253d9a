package channel

import (
	"github.com/sagernet/sing-socket/common/buf"
)

// Handler receives channel events on the event loop.
// ChannelRead transfers ownership of buffer; the handler must release it.
type Handler interface {
	ChannelActive(channel *StreamChannel)
	ChannelRead(channel *StreamChannel, buffer *buf.Buffer)
	ChannelReadComplete(channel *StreamChannel)
	ChannelInputShutdown(channel *StreamChannel)
	ChannelWritabilityChanged(channel *StreamChannel, writable bool)
	ExceptionCaught(channel *StreamChannel, err error)
	ChannelInactive(channel *StreamChannel)
}

type HandlerAdapter struct{}

func (HandlerAdapter) ChannelActive(channel *StreamChannel) {}

func (HandlerAdapter) ChannelRead(channel *StreamChannel, buffer *buf.Buffer) {
	buffer.Release()
}

func (HandlerAdapter) ChannelReadComplete(channel *StreamChannel) {}

func (HandlerAdapter) ChannelInputShutdown(channel *StreamChannel) {}

func (HandlerAdapter) ChannelWritabilityChanged(channel *StreamChannel, writable bool) {}

func (HandlerAdapter) ExceptionCaught(channel *StreamChannel, err error) {}

func (HandlerAdapter) ChannelInactive(channel *StreamChannel) {}
