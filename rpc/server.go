package rpc

import (
	"sync"

	"avrorpc/adapter"
	"avrorpc/channel"
	"avrorpc/message"
	"avrorpc/middleware"
	"avrorpc/rpcerr"
)

// MessageHandler implements one message's business logic: decoded
// headers and request value in, response value or error out. This is a
// tabular registration the caller builds explicitly, in place of
// reflect-based `func(args *Args, reply *Reply) error` method scanning
// — no reflection, no receiver-method signature convention to satisfy.
type MessageHandler func(headers map[string][]byte, request interface{}) (response interface{}, err error)

// Server is the RPC server façade (§6): a Service description, one
// adapter cache shared by every channel bound to it, a table of
// per-message handlers, an optional middleware chain run around
// dispatch, and the set of channels it has created.
type Server struct {
	svc      *message.Service
	cache    *ServerAdapterCache
	handlers map[string]MessageHandler

	mu       sync.Mutex
	mw       *middleware.Chain
	channels []channel.Channel
}

// NewServer builds a Server for svc. mw may be nil.
func NewServer(svc *message.Service, mw *middleware.Chain) *Server {
	if mw == nil {
		mw = middleware.NewChain()
	}
	return &Server{svc: svc, cache: NewServerAdapterCache(svc), mw: mw, handlers: make(map[string]MessageHandler)}
}

// Handle registers h for msgName, replacing any previous handler.
func (s *Server) Handle(msgName string, h MessageHandler) {
	s.handlers[msgName] = h
}

// Use appends one more middleware to the chain every dispatched call
// runs through (§6 "use(middleware)").
func (s *Server) Use(f middleware.Func) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mw.Use(f)
}

// AdapterSource exposes the server's adapter cache for wiring into a
// channel.NewStateful/StatelessServer constructor.
func (s *Server) AdapterSource() channel.AdapterSource { return s.cache }

// CreateChannel builds a stateful server channel over transport, bound
// to this Server's handlers and adapter cache, and starts tracking it
// (§6 "createChannel(transport, options)").
func (s *Server) CreateChannel(transport channel.Transport, opts channel.Options) *channel.StatefulServer {
	ch := channel.NewStatefulServer(s.svc, transport, s.cache, s.ChannelHandler(), opts)
	s.trackChannel(ch)
	return ch
}

// CreateStatelessChannel builds a stateless server channel bound to
// this Server's handlers and adapter cache, and starts tracking it.
func (s *Server) CreateStatelessChannel(opts channel.Options) *channel.StatelessServer {
	ch := channel.NewStatelessServer(s.svc, s.cache, s.ChannelHandler(), opts)
	s.trackChannel(ch)
	return ch
}

// CreateChannelOnMux attaches a scoped server channel to an already
// running Multiplexer instead of building one of its own, letting
// several channels share a single transport distinguished only by
// scope (§8 property 6: two clients, scopes "A" and "B", one shared
// transport).
func (s *Server) CreateChannelOnMux(mux *channel.Multiplexer, opts channel.Options) *channel.StatefulServer {
	ch := channel.NewStatefulServerOnMux(s.svc, mux, s.cache, s.ChannelHandler(), opts)
	s.trackChannel(ch)
	return ch
}

func (s *Server) trackChannel(ch channel.Channel) {
	s.mu.Lock()
	s.channels = append(s.channels, ch)
	s.mu.Unlock()
}

// ActiveChannels returns every channel this Server created that has
// not been destroyed yet (§6 "activeChannels()", §8 property 6: two
// channels distinguished only by scope both count here).
func (s *Server) ActiveChannels() []channel.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]channel.Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		if !ch.Destroyed() {
			out = append(out, ch)
		}
	}
	return out
}

// ChannelHandler builds the channel.Handler a server channel dispatches
// every decoded request through.
func (s *Server) ChannelHandler() channel.Handler {
	return func(wreq *adapter.WrappedRequest) (*adapter.WrappedResponse, error) {
		// The channel layer already looked wreq.MessageName up against
		// this same svc before invoking this handler at all — an unknown
		// name gets a synthetic system-error response there instead of
		// ever reaching here (channel.StatefulServer.handleRequest,
		// channel.StatelessServer.Serve).
		msg := s.svc.Messages[wreq.MessageName]

		wres := &adapter.WrappedResponse{Headers: wreq.Headers}
		ctx := &middleware.CallContext{Message: &msg}

		s.mu.Lock()
		mw := s.mw
		s.mu.Unlock()

		if err := mw.Run(ctx, wreq, wres, s.dispatchTransition(msg)); err != nil {
			return nil, err
		}
		return wres, nil
	}
}

func (s *Server) dispatchTransition(msg message.Message) middleware.Transition {
	return func(ctx *middleware.CallContext, wreq *adapter.WrappedRequest, wres *adapter.WrappedResponse) error {
		if wreq.MessageName == "" {
			wres.Response = "pong"
			return nil
		}

		h, ok := s.handlers[wreq.MessageName]
		if !ok {
			wres.HasError = true
			wres.Error = rpcerr.New(rpcerr.NotImplemented, "no handler registered for %q", wreq.MessageName).Error()
			return nil
		}

		resp, err := h(wreq.Headers, wreq.Request)
		if err != nil {
			wres.HasError = true
			wres.Error = err.Error()
			return nil
		}
		wres.Response = resp
		return nil
	}
}
