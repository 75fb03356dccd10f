// Package clientapi is the "user interface" role module of §2's diagram: a
// chi-routed read-only HTTP surface over the blockchain module's
// request/response protocol, for wallets and explorers to query current
// state without joining the gossip network themselves.
package clientapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/duniter-go/node/internal/blockchain"
	"github.com/duniter-go/node/internal/busrouter"
)

// Server answers HTTP requests by issuing a blockchain.RequestContent over
// the router and waiting for the correlated blockchain.ResponseContent.
type Server struct {
	log    *logrus.Logger
	router *busrouter.Router

	self       busrouter.ModuleName
	blockchain busrouter.ModuleName

	mailbox busrouter.Mailbox
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan blockchain.ResponseContent

	httpServer *http.Server
}

// NewServer wires a Server into the router under self, answering HTTP
// requests by querying the named blockchain module.
func NewServer(log *logrus.Logger, router *busrouter.Router, self, blockchainModule busrouter.ModuleName, listenAddr string, timeout time.Duration) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := &Server{
		log:        log,
		router:     router,
		self:       self,
		blockchain: blockchainModule,
		mailbox:    busrouter.NewMailbox(256),
		timeout:    timeout,
		pending:    make(map[string]chan blockchain.ResponseContent),
	}
	s.httpServer = &http.Server{Addr: listenAddr, Handler: s.routes()}
	return s
}

// Register joins the router playing the user-interface role.
func (s *Server) Register() error {
	return s.router.Register(s.self, s.mailbox, []busrouter.RoleTag{"user interface"}, nil)
}

// Run drains the mailbox for responses and serves HTTP until stop closes.
func (s *Server) Run(stop <-chan struct{}) error {
	go s.drainMailbox(stop)

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()

	select {
	case <-stop:
		return s.httpServer.Close()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) drainMailbox(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case msg, ok := <-s.mailbox:
			if !ok {
				return
			}
			s.handle(msg)
		}
	}
}

func (s *Server) handle(msg busrouter.Message) {
	if msg.Payload.Kind != busrouter.PKResponse {
		return
	}
	resp, ok := msg.Payload.Content.(blockchain.ResponseContent)
	if !ok {
		s.log.Warn("clientapi: response with unexpected content type")
		return
	}
	s.mu.Lock()
	ch, ok := s.pending[msg.Payload.ReqID]
	if ok {
		delete(s.pending, msg.Payload.ReqID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	ch <- resp
}

// query issues a blockchain request and blocks until its response arrives
// or ctx expires.
func (s *Server) query(ctx context.Context, content blockchain.RequestContent) (blockchain.ResponseContent, error) {
	id := blockchain.NewRequestID()
	ch := make(chan blockchain.ResponseContent, 1)

	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()

	s.router.Deliver(busrouter.Message{
		Selector: busrouter.One(s.blockchain),
		Payload:  busrouter.Request(s.self, s.blockchain, id, content),
	})

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return blockchain.ResponseContent{}, ctx.Err()
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/blockchain/current", s.handleCurrentBlock)
	r.Get("/blockchain/block/{number}", s.handleBlockByNumber)
	r.Get("/wot/identities", s.handleIdentities)
	r.Get("/wot/uid/{pubkey}", s.handleUID)
	return r
}

func (s *Server) withTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.timeout)
}

func (s *Server) handleCurrentBlock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.withTimeout(r)
	defer cancel()
	resp, err := s.query(ctx, blockchain.RequestContent{Kind: blockchain.ReqCurrentBlock})
	if err != nil {
		writeError(w, http.StatusGatewayTimeout, err)
		return
	}
	if !resp.Found {
		http.Error(w, "no current block", http.StatusNotFound)
		return
	}
	writeJSON(w, resp.Block)
}

func (s *Server) handleBlockByNumber(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.ParseUint(chi.URLParam(r, "number"), 10, 32)
	if err != nil {
		http.Error(w, "invalid block number", http.StatusBadRequest)
		return
	}
	ctx, cancel := s.withTimeout(r)
	defer cancel()
	resp, err := s.query(ctx, blockchain.RequestContent{Kind: blockchain.ReqBlockByNumber, Number: blockchain.BlockNumber(n)})
	if err != nil {
		writeError(w, http.StatusGatewayTimeout, err)
		return
	}
	if !resp.Found {
		http.Error(w, "block not found", http.StatusNotFound)
		return
	}
	writeJSON(w, resp.Block)
}

func (s *Server) handleIdentities(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.withTimeout(r)
	defer cancel()
	resp, err := s.query(ctx, blockchain.RequestContent{Kind: blockchain.ReqGetIdentities})
	if err != nil {
		writeError(w, http.StatusGatewayTimeout, err)
		return
	}
	writeJSON(w, resp.Identities)
}

func (s *Server) handleUID(w http.ResponseWriter, r *http.Request) {
	var pk blockchain.PublicKey
	if err := pk.UnmarshalText([]byte(chi.URLParam(r, "pubkey"))); err != nil {
		http.Error(w, "invalid public key", http.StatusBadRequest)
		return
	}
	ctx, cancel := s.withTimeout(r)
	defer cancel()
	resp, err := s.query(ctx, blockchain.RequestContent{Kind: blockchain.ReqUIDs, PubKeys: []blockchain.PublicKey{pk}})
	if err != nil {
		writeError(w, http.StatusGatewayTimeout, err)
		return
	}
	uid, known := resp.UIDs[pk]
	if !known {
		http.Error(w, "no uid known for this key", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{"pubkey": pk.String(), "uid": uid})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	http.Error(w, fmt.Sprintf("request timed out: %v", err), code)
}
