package testutil

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/goccy/go-json"
)

// RPCError is a JSON-RPC error payload. Data carries hex-encoded revert data
// when simulating reverting calls.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// Handler answers one JSON-RPC method. Returning a non-nil *RPCError produces
// an error response.
type Handler func(params []json.RawMessage) (any, *RPCError)

// RPCStub is an in-process JSON-RPC endpoint. Both ethclient and the bundler
// client can dial its URL; tests register per-method handlers and inspect
// call counts afterwards.
type RPCStub struct {
	srv *httptest.Server

	mu       sync.Mutex
	handlers map[string]Handler
	calls    map[string]int
}

func NewRPCStub() *RPCStub {
	s := &RPCStub{
		handlers: make(map[string]Handler),
		calls:    make(map[string]int),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))

	// Every client starts with a chain id probe.
	s.Handle("eth_chainId", func([]json.RawMessage) (any, *RPCError) {
		return hexutil.EncodeBig(TestChainID()), nil
	})
	return s
}

func (s *RPCStub) URL() string {
	return s.srv.URL
}

func (s *RPCStub) Close() {
	s.srv.Close()
}

// Handle registers (or replaces) the handler for a method.
func (s *RPCStub) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// CallCount returns how many times a method has been invoked.
func (s *RPCStub) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *RPCStub) serve(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.calls[req.Method]++
	h, ok := s.handlers[req.Method]
	s.mu.Unlock()

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if !ok {
		resp["error"] = &RPCError{Code: -32601, Message: fmt.Sprintf("method %s not stubbed", req.Method)}
	} else if result, rpcErr := h(req.Params); rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
