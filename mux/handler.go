package mux

// Handler receives Connection events. Callbacks run one at a time on the
// Connection's control loop, in the order the events occurred. They may
// call back into the Connection.
type Handler interface {
	OnConnectionOpen()
	OnConnectionClosed()

	// OnConnectionFailed reports that the transport could not be attached.
	// The Connection never opens.
	OnConnectionFailed(err error)

	// OnChannelCreated announces a channel opened by the peer.
	OnChannelCreated(ch *Channel)
	OnChannelOpen(ch *Channel)
	OnChannelClosed(ch *Channel)
	OnMessage(ch *Channel, data []byte, binary bool)
}

// HandlerFuncs is a Handler built from optional functions.
type HandlerFuncs struct {
	ConnectionOpen   func()
	ConnectionClosed func()
	ConnectionFailed func(err error)
	ChannelCreated   func(ch *Channel)
	ChannelOpen      func(ch *Channel)
	ChannelClosed    func(ch *Channel)
	Message          func(ch *Channel, data []byte, binary bool)
}

func (h HandlerFuncs) OnConnectionOpen() {
	if h.ConnectionOpen != nil {
		h.ConnectionOpen()
	}
}

func (h HandlerFuncs) OnConnectionClosed() {
	if h.ConnectionClosed != nil {
		h.ConnectionClosed()
	}
}

func (h HandlerFuncs) OnConnectionFailed(err error) {
	if h.ConnectionFailed != nil {
		h.ConnectionFailed(err)
	}
}

func (h HandlerFuncs) OnChannelCreated(ch *Channel) {
	if h.ChannelCreated != nil {
		h.ChannelCreated(ch)
	}
}

func (h HandlerFuncs) OnChannelOpen(ch *Channel) {
	if h.ChannelOpen != nil {
		h.ChannelOpen(ch)
	}
}

func (h HandlerFuncs) OnChannelClosed(ch *Channel) {
	if h.ChannelClosed != nil {
		h.ChannelClosed(ch)
	}
}

func (h HandlerFuncs) OnMessage(ch *Channel, data []byte, binary bool) {
	if h.Message != nil {
		h.Message(ch, data, binary)
	}
}
