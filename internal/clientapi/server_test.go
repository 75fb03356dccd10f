package clientapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/duniter-go/node/internal/blockchain"
	"github.com/duniter-go/node/internal/busrouter"
)

// stubBlockchain answers every request immediately with a canned response,
// standing in for internal/blockchain.Engine's request/response handling.
type stubBlockchain struct {
	router  *busrouter.Router
	self    busrouter.ModuleName
	mailbox busrouter.Mailbox
	resp    blockchain.ResponseContent
}

func newStubBlockchain(t *testing.T, router *busrouter.Router, resp blockchain.ResponseContent) *stubBlockchain {
	t.Helper()
	sb := &stubBlockchain{router: router, self: "blockchain", mailbox: busrouter.NewMailbox(16), resp: resp}
	if err := router.Register(sb.self, sb.mailbox, nil, nil); err != nil {
		t.Fatalf("register stub blockchain: %v", err)
	}
	go sb.run()
	return sb
}

func (sb *stubBlockchain) run() {
	for msg := range sb.mailbox {
		if msg.Payload.Kind != busrouter.PKRequest {
			continue
		}
		sb.router.Deliver(busrouter.Message{
			Selector: busrouter.One(msg.Payload.From),
			Payload:  busrouter.Response(sb.self, msg.Payload.From, msg.Payload.ReqID, sb.resp),
		})
	}
}

func newTestServer(t *testing.T, resp blockchain.ResponseContent) *Server {
	t.Helper()
	router := busrouter.New(nil, time.Minute, nil, nil)
	router.Run()
	newStubBlockchain(t, router, resp)

	s := NewServer(nil, router, "clientapi", "blockchain", "127.0.0.1:0", time.Second)
	if err := s.Register(); err != nil {
		t.Fatalf("register server: %v", err)
	}
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	go s.drainMailbox(stop)
	return s
}

func TestHandleCurrentBlockReturnsFoundBlock(t *testing.T) {
	b := &blockchain.Block{Number: 7, Currency: "test_currency"}
	s := newTestServer(t, blockchain.ResponseContent{Kind: blockchain.ReqCurrentBlock, Block: b, Found: true})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/blockchain/current", nil)
	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var got blockchain.Block
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Number != 7 {
		t.Fatalf("Number = %d, want 7", got.Number)
	}
}

func TestHandleCurrentBlockNotFound(t *testing.T) {
	s := newTestServer(t, blockchain.ResponseContent{Kind: blockchain.ReqCurrentBlock, Found: false})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/blockchain/current", nil)
	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleBlockByNumberInvalidNumber(t *testing.T) {
	s := newTestServer(t, blockchain.ResponseContent{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/blockchain/block/not-a-number", nil)
	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleUIDReturnsKnownMapping(t *testing.T) {
	pk := blockchain.PublicKey{1, 2, 3}
	s := newTestServer(t, blockchain.ResponseContent{Kind: blockchain.ReqUIDs, UIDs: map[blockchain.PublicKey]string{pk: "bob"}, Found: true})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/wot/uid/"+pk.String(), nil)
	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got["uid"] != "bob" {
		t.Fatalf("uid = %q, want %q", got["uid"], "bob")
	}
}

func TestHandleUIDInvalidPubkey(t *testing.T) {
	s := newTestServer(t, blockchain.ResponseContent{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/wot/uid/not-hex!!", nil)
	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
