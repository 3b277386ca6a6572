package lsp

import (
	"context"
	"errors"

	"go.lsp.dev/jsonrpc2"
)

var (
	// ErrExit signals a clean exit after a shutdown request.
	ErrExit = errors.New("lsp: exit")
	// ErrExitWithoutShutdown signals an exit notification with no preceding
	// shutdown; the process is expected to exit non-zero.
	ErrExitWithoutShutdown = errors.New("lsp: exit without shutdown")
)

// serverNotInitialized is the protocol-reserved code for requests sent
// before the initialize handshake completed.
const serverNotInitialized = jsonrpc2.Code(-32002)

// phase is the handshake state of the connection.
type phase uint8

const (
	phaseUninitialized phase = iota
	phaseInitializing
	phaseReady
	phaseShuttingDown
)

func (p phase) String() string {
	switch p {
	case phaseUninitialized:
		return "uninitialized"
	case phaseInitializing:
		return "initializing"
	case phaseReady:
		return "ready"
	case phaseShuttingDown:
		return "shutting down"
	}
	return "unknown"
}

func (s *Server) phase() phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) setPhase(p phase) {
	s.mu.Lock()
	s.state = p
	s.mu.Unlock()
}

// gate wraps next with the lifecycle state machine: it owns the initialize,
// initialized, shutdown and exit methods and rejects or drops everything
// else that arrives out of phase.
func (s *Server) gate(next jsonrpc2.Handler) jsonrpc2.Handler {
	return func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		_, isCall := req.(*jsonrpc2.Call)

		switch req.Method() {
		case "exit":
			// Accepted in every phase; terminates the serving loop.
			if s.phase() == phaseShuttingDown {
				s.stop(ErrExit)
			} else {
				s.stop(ErrExitWithoutShutdown)
			}
			return nil

		case "initialize":
			s.mu.Lock()
			first := s.state == phaseUninitialized
			if first {
				s.state = phaseInitializing
			}
			s.mu.Unlock()
			if !first {
				return reply(ctx, nil, jsonrpc2.NewError(jsonrpc2.InvalidRequest, "already initialized"))
			}
			return next(ctx, reply, req)

		case "initialized":
			s.mu.Lock()
			if s.state == phaseInitializing {
				s.state = phaseReady
			}
			s.mu.Unlock()
			return next(ctx, reply, req)

		case "shutdown":
			if s.phase() != phaseReady {
				if isCall {
					return reply(ctx, nil, jsonrpc2.NewError(serverNotInitialized, "server not initialized"))
				}
				return nil
			}
			err := next(ctx, reply, req)
			s.setPhase(phaseShuttingDown)
			return err
		}

		switch s.phase() {
		case phaseReady:
			return next(ctx, reply, req)
		case phaseShuttingDown:
			if isCall {
				return reply(ctx, nil, jsonrpc2.NewError(jsonrpc2.InvalidRequest, "server is shutting down"))
			}
			return nil
		default:
			if isCall {
				return reply(ctx, nil, jsonrpc2.NewError(serverNotInitialized, "server not initialized"))
			}
			// Notifications before the handshake are dropped.
			return nil
		}
	}
}
