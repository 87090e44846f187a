// Package rpc provides a lightweight JSON-over-TCP RPC layer for internal
// service-to-service calls, such as the upload service handing tasks to the
// consumer when Kafka is not deployed.
//
// Protocol: newline-delimited JSON over a persistent TCP connection. Each
// request carries an id, a method name of the form "Service.Method" and raw
// params; each response echoes the id and carries either data or an error
// with an optional machine-readable code.
//
// Example server:
//
//	s := rpc.NewServer()
//	s.Register(proto.MethodSubmit, func(ctx context.Context, params json.RawMessage) (any, error) {
//	    var req proto.SubmitRequest
//	    if err := json.Unmarshal(params, &req); err != nil {
//	        return nil, err
//	    }
//	    ...
//	})
//	go s.ListenAndServe(":9400")
//
// Example client:
//
//	c := rpc.NewClient("localhost:9400")
//	var resp proto.SubmitResponse
//	err := c.Call(ctx, proto.MethodSubmit, &proto.SubmitRequest{Task: task}, &resp)
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// HandlerFunc processes an RPC request and returns a response or error.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Request is the wire format for an RPC request.
type Request struct {
	Method string          `json:"method"`
	ID     string          `json:"id"`
	Params json.RawMessage `json:"params"`
}

// Response is the wire format for an RPC response.
type Response struct {
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
}

// Error is an error with a code the caller can branch on. Handlers return
// it to signal expected conditions; clients receive it back from Call.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return "rpc error: " + e.Message
	}
	return fmt.Sprintf("rpc error (%s): %s", e.Code, e.Message)
}

// Errorf builds a coded Error.
func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of an *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Server is a lightweight JSON-over-TCP RPC server.
type Server struct {
	handlers       map[string]HandlerFunc
	requestTimeout time.Duration
	logger         *slog.Logger

	mu       sync.RWMutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewServer creates a new RPC server. Each handler call is bounded by
// requestTimeout when it is positive.
func NewServer(requestTimeout time.Duration) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		handlers:       make(map[string]HandlerFunc),
		requestTimeout: requestTimeout,
		logger:         slog.Default().With("component", "rpc-server"),
		conns:          make(map[net.Conn]struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Register adds a handler for the given RPC method name.
func (s *Server) Register(method string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
	s.logger.Debug("method registered", "method", method)
}

// ListenAndServe listens on addr and serves until Stop is called.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln. It returns nil after Stop.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("rpc server listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			s.logger.Error("accept error", "error", err)
			continue
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)
	for {
		var req Request
		if err := decoder.Decode(&req); err != nil {
			return
		}
		resp := s.dispatch(req)
		if err := encoder.Encode(resp); err != nil {
			s.logger.Error("write error", "method", req.Method, "error", err)
			return
		}
	}
}

func (s *Server) dispatch(req Request) Response {
	resp := Response{ID: req.ID}

	s.mu.RLock()
	handler, exists := s.handlers[req.Method]
	s.mu.RUnlock()
	if !exists {
		resp.Error = fmt.Sprintf("unknown method: %s", req.Method)
		resp.Code = "unknown_method"
		return resp
	}

	ctx := s.ctx
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}
	data, err := handler(ctx, req.Params)
	if err != nil {
		resp.Error = err.Error()
		resp.Code = CodeOf(err)
		var e *Error
		if errors.As(err, &e) {
			resp.Error = e.Message
		}
		return resp
	}
	raw, err := json.Marshal(data)
	if err != nil {
		resp.Error = fmt.Sprintf("marshaling response: %v", err)
		return resp
	}
	resp.Data = raw
	return resp
}

// MethodCount returns the number of registered methods.
func (s *Server) MethodCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}

// Stop closes the listener and all open connections, cancels in-flight
// handlers and waits for them to return.
func (s *Server) Stop() {
	s.cancel()
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info("rpc server stopped")
}
