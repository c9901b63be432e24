package partner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"wwcpsync/protocol"
)

func testServer(handler http.HandlerFunc) (*httptest.Server, *HTTPTransport) {
	srv := httptest.NewServer(handler)
	return srv, NewHTTPTransport(srv.URL, 5*time.Second)
}

func TestHTTPSendDataPush(t *testing.T) {
	srv, tr := testServer(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data" {
			t.Errorf("path = %q, want /data", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		var msg protocol.DataPush
		json.NewDecoder(r.Body).Decode(&msg)
		if msg.Kind != "evse" {
			t.Errorf("kind = %q, want evse", msg.Kind)
		}
		if len(msg.Remove) != 1 || msg.Remove[0] != "DE*GEF*E1" {
			t.Errorf("remove = %v", msg.Remove)
		}
		json.NewEncoder(w).Encode(protocol.PushAck{Accepted: 1})
	})
	defer srv.Close()

	ack, err := tr.Send(context.Background(), protocol.TypeDataPush, protocol.DataPush{Kind: "evse", Remove: []string{"DE*GEF*E1"}})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ack != nil {
		t.Errorf("ack = %+v, want nil when nothing was rejected", ack)
	}
}

func TestHTTPSendReturnsRejections(t *testing.T) {
	srv, tr := testServer(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(protocol.PushAck{Rejected: map[string]string{"cdr-1": "duplicate"}})
	})
	defer srv.Close()

	ack, err := tr.Send(context.Background(), protocol.TypeCDRPush, protocol.CDRPush{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ack == nil || ack.Rejected["cdr-1"] != "duplicate" {
		t.Fatalf("ack = %+v", ack)
	}
}

func TestHTTPSendEmptyBody(t *testing.T) {
	srv, tr := testServer(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	defer srv.Close()

	if _, err := tr.Send(context.Background(), protocol.TypeStatusPush, protocol.StatusPush{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestHTTPErrorStatusMarksUnhealthy(t *testing.T) {
	srv, tr := testServer(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	})
	defer srv.Close()

	for i := 0; i < maxFailures; i++ {
		if !tr.Healthy() {
			t.Fatalf("unhealthy after %d failures", i)
		}
		_, err := tr.Send(context.Background(), protocol.TypeStatusPush, protocol.StatusPush{})
		if err == nil {
			t.Fatal("expected error for 503")
		}
		if !strings.Contains(err.Error(), "HTTP 503") {
			t.Errorf("error = %v", err)
		}
	}
	if tr.Healthy() {
		t.Error("expected unhealthy after repeated failures")
	}
}

func TestHTTPPingRecovers(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv, tr := testServer(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ping" {
			t.Errorf("path = %q, want /ping", r.URL.Path)
		}
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	for i := 0; i < maxFailures; i++ {
		tr.Ping(context.Background())
	}
	if tr.Healthy() {
		t.Fatal("expected unhealthy")
	}
	fail.Store(false)
	if err := tr.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if !tr.Healthy() {
		t.Error("expected healthy after successful ping")
	}
}

func TestHTTPSendHonorsContext(t *testing.T) {
	release := make(chan struct{})
	srv, tr := testServer(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := tr.Send(ctx, protocol.TypeDataPush, protocol.DataPush{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestHTTPUnsupportedType(t *testing.T) {
	tr := NewHTTPTransport("http://127.0.0.1:1", time.Second)
	if _, err := tr.Send(context.Background(), protocol.TypeStatusReport, nil); err == nil {
		t.Fatal("expected error for inbound message type")
	}
}

type fakeBus struct {
	connected bool
	err       error
	topics    []string
	sent      [][]byte
}

func (b *fakeBus) PublishEnvelope(ctx context.Context, topic string, env interface{ Encode() ([]byte, error) }) error {
	if b.err != nil {
		return b.err
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}
	b.topics = append(b.topics, topic)
	b.sent = append(b.sent, data)
	return nil
}

func (b *fakeBus) IsConnected() bool { return b.connected }

type fakeOutbox struct {
	err     error
	parked  []string
	partner string
}

func (o *fakeOutbox) EnqueueOutbox(topic string, payload []byte, msgType, partnerID string) error {
	if o.err != nil {
		return o.err
	}
	o.parked = append(o.parked, msgType)
	o.partner = partnerID
	return nil
}

var syncAddr = protocol.Address{Role: protocol.RoleSync, Node: "sync-1"}

func TestBusSendPublishesEnvelope(t *testing.T) {
	bus := &fakeBus{connected: true}
	tr := NewBusTransport("gireve", "wwcp.partner.gireve", syncAddr, bus, nil, nil)

	if _, err := tr.Send(context.Background(), protocol.TypeStatusPush, protocol.StatusPush{Kind: "evse"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(bus.sent) != 1 || bus.topics[0] != "wwcp.partner.gireve" {
		t.Fatalf("sent = %d topics = %v", len(bus.sent), bus.topics)
	}
	var env protocol.Envelope
	if err := json.Unmarshal(bus.sent[0], &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Type != protocol.TypeStatusPush {
		t.Errorf("type = %q", env.Type)
	}
	if env.Dst.Role != protocol.RolePartner || env.Dst.Node != "gireve" {
		t.Errorf("dst = %+v", env.Dst)
	}
	var msg protocol.StatusPush
	if err := env.DecodePayload(&msg); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if msg.Kind != "evse" {
		t.Errorf("kind = %q", msg.Kind)
	}
}

func TestBusSendParksInOutbox(t *testing.T) {
	bus := &fakeBus{connected: false, err: errors.New("not connected")}
	outbox := &fakeOutbox{}
	tr := NewBusTransport("gireve", "wwcp.partner.gireve", syncAddr, bus, outbox, nil)

	if _, err := tr.Send(context.Background(), protocol.TypeCDRPush, protocol.CDRPush{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(outbox.parked) != 1 || outbox.parked[0] != protocol.TypeCDRPush || outbox.partner != "gireve" {
		t.Fatalf("parked = %v partner = %q", outbox.parked, outbox.partner)
	}
	if tr.Healthy() {
		t.Error("expected unhealthy while disconnected")
	}
	if err := tr.Ping(context.Background()); err == nil {
		t.Error("expected ping error while disconnected")
	}
}

func TestBusSendOutboxFailure(t *testing.T) {
	bus := &fakeBus{err: errors.New("broker down")}
	outbox := &fakeOutbox{err: errors.New("disk full")}
	tr := NewBusTransport("gireve", "t", syncAddr, bus, outbox, nil)

	if _, err := tr.Send(context.Background(), protocol.TypeDataPush, protocol.DataPush{}); err == nil {
		t.Fatal("expected error when the outbox rejects the message")
	}
}
