package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flashbots/ranknet/protocol"
)

// HTTPTransport implements the protocol.GroupTransport interface across
// processes. Each rank mounts the transport routes on its own HTTP service
// and delivers to its peers by POSTing envelopes:
//
//   - /transport/bcast   receives the root's broadcast payload
//   - /transport/gather  receives worker contributions (root only)
//   - /transport/p2p     receives directed sends; the handler holds the
//     request open until the local role receives, preserving the rendezvous
//   - /transport/barrier receives barrier arrivals (root only) and responds
//     once the whole world has arrived
//
// A transport serves a single protocol run; deploy a fresh world per run.
type HTTPTransport struct {
	rank      int
	size      int
	identity  string
	endpoints []string
	client    *http.Client

	bcastCh chan *protocol.Envelope

	gatherMu      sync.Mutex
	gatherEntries []*protocol.Envelope
	gatherCount   int
	gatherReady   chan struct{}

	mailboxMu sync.Mutex
	mailboxes map[mailboxKey]chan *protocol.Envelope

	barrierMu      sync.Mutex
	barrierArrived int
	barrierRelease chan struct{}
}

type mailboxKey struct {
	source  int
	channel protocol.ChannelID
}

// NewHTTPTransport builds the endpoint for one rank from the registry's
// published membership.
func NewHTTPTransport(rank int, identity string, members []*Member) (*HTTPTransport, error) {
	size := len(members)
	if size < protocol.MinWorldSize {
		return nil, fmt.Errorf("%w: size %d", protocol.ErrWorldTooSmall, size)
	}

	endpoints := make([]string, size)
	for _, m := range members {
		if m.Rank < 0 || m.Rank >= size {
			return nil, fmt.Errorf("member rank %d out of range [0, %d)", m.Rank, size)
		}
		endpoints[m.Rank] = m.HTTPEndpoint
	}
	for r, endpoint := range endpoints {
		if endpoint == "" {
			return nil, fmt.Errorf("membership is missing rank %d", r)
		}
	}

	return &HTTPTransport{
		rank:           rank,
		size:           size,
		identity:       identity,
		endpoints:      endpoints,
		client:         &http.Client{},
		bcastCh:        make(chan *protocol.Envelope, 1),
		gatherEntries:  make([]*protocol.Envelope, size),
		gatherReady:    make(chan struct{}),
		mailboxes:      make(map[mailboxKey]chan *protocol.Envelope),
		barrierRelease: make(chan struct{}),
	}, nil
}

// RegisterRoutes implements the httpserver.RouteRegistrar interface.
func (t *HTTPTransport) RegisterRoutes(r chi.Router) {
	r.Post("/transport/bcast", t.handleBcast)
	r.Post("/transport/gather", t.handleGather)
	r.Post("/transport/p2p", t.handleP2P)
	r.Post("/transport/barrier", t.handleBarrier)
}

// Rank implements the protocol.GroupTransport interface.
func (t *HTTPTransport) Rank() int { return t.rank }

// Size implements the protocol.GroupTransport interface.
func (t *HTTPTransport) Size() int { return t.size }

// LocalIdentity implements the protocol.GroupTransport interface.
func (t *HTTPTransport) LocalIdentity() string { return t.identity }

// Broadcast implements the protocol.GroupTransport interface. The root
// delivers to every peer in rank order; the POST returns as soon as the
// peer has buffered the payload, so the root does not wait for receivers.
func (t *HTTPTransport) Broadcast(ctx context.Context, payload *protocol.Envelope) (*protocol.Envelope, error) {
	if t.rank == 0 {
		for rank := 1; rank < t.size; rank++ {
			req := &EnvelopeRequest{Source: 0, Envelope: payload}
			if err := t.post(ctx, rank, "/transport/bcast", req); err != nil {
				return nil, fmt.Errorf("broadcast to rank %d: %w", rank, err)
			}
		}
		return payload, nil
	}

	select {
	case env := <-t.bcastCh:
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *HTTPTransport) handleBcast(w http.ResponseWriter, req *http.Request) {
	envReq, err := protocol.DecodeMessage[EnvelopeRequest](req.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	select {
	case t.bcastCh <- envReq.Envelope:
		w.WriteHeader(http.StatusOK)
	case <-req.Context().Done():
		http.Error(w, "broadcast buffer occupied", http.StatusConflict)
	}
}

// Gather implements the protocol.GroupTransport interface. Workers POST
// their contribution to the root and return; the root blocks until every
// worker's contribution has arrived.
func (t *HTTPTransport) Gather(ctx context.Context, contribution *protocol.Envelope) ([]*protocol.Envelope, error) {
	if t.rank != 0 {
		req := &EnvelopeRequest{Source: t.rank, Envelope: contribution}
		if err := t.post(ctx, 0, "/transport/gather", req); err != nil {
			return nil, fmt.Errorf("contributing to gather: %w", err)
		}
		return nil, nil
	}

	t.gatherMu.Lock()
	t.gatherEntries[0] = contribution
	ready := t.gatherReady
	t.gatherMu.Unlock()

	select {
	case <-ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	t.gatherMu.Lock()
	defer t.gatherMu.Unlock()
	entries := make([]*protocol.Envelope, t.size)
	copy(entries, t.gatherEntries)
	return entries, nil
}

func (t *HTTPTransport) handleGather(w http.ResponseWriter, req *http.Request) {
	if t.rank != 0 {
		http.Error(w, "not the gather root", http.StatusBadRequest)
		return
	}

	envReq, err := protocol.DecodeMessage[EnvelopeRequest](req.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if envReq.Source <= 0 || envReq.Source >= t.size {
		http.Error(w, fmt.Sprintf("source rank %d out of range", envReq.Source), http.StatusBadRequest)
		return
	}

	t.gatherMu.Lock()
	if t.gatherEntries[envReq.Source] == nil {
		t.gatherCount++
	}
	t.gatherEntries[envReq.Source] = envReq.Envelope
	if t.gatherCount == t.size-1 {
		close(t.gatherReady)
	}
	t.gatherMu.Unlock()

	w.WriteHeader(http.StatusOK)
}

// Send implements the protocol.GroupTransport interface. The destination's
// handler holds the request open until the receiving role takes the
// envelope, so the sender blocks like a rendezvous send.
func (t *HTTPTransport) Send(ctx context.Context, env *protocol.Envelope, dest int, channel protocol.ChannelID) error {
	if dest < 0 || dest >= t.size {
		return fmt.Errorf("destination rank %d out of range [0, %d)", dest, t.size)
	}
	req := &EnvelopeRequest{Source: t.rank, Channel: channel, Envelope: env}
	return t.post(ctx, dest, "/transport/p2p", req)
}

func (t *HTTPTransport) handleP2P(w http.ResponseWriter, req *http.Request) {
	envReq, err := protocol.DecodeMessage[EnvelopeRequest](req.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ch := t.mailbox(mailboxKey{source: envReq.Source, channel: envReq.Channel})
	select {
	case ch <- envReq.Envelope:
		w.WriteHeader(http.StatusOK)
	case <-req.Context().Done():
		http.Error(w, "receiver never arrived", http.StatusRequestTimeout)
	}
}

// Recv implements the protocol.GroupTransport interface.
func (t *HTTPTransport) Recv(ctx context.Context, source int, channel protocol.ChannelID) (*protocol.Envelope, error) {
	if source < 0 || source >= t.size {
		return nil, fmt.Errorf("source rank %d out of range [0, %d)", source, t.size)
	}

	ch := t.mailbox(mailboxKey{source: source, channel: channel})
	select {
	case env := <-ch:
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *HTTPTransport) mailbox(key mailboxKey) chan *protocol.Envelope {
	t.mailboxMu.Lock()
	defer t.mailboxMu.Unlock()
	ch, ok := t.mailboxes[key]
	if !ok {
		ch = make(chan *protocol.Envelope)
		t.mailboxes[key] = ch
	}
	return ch
}

// Barrier implements the protocol.GroupTransport interface. Arrivals funnel
// to rank 0, which releases everyone once the count reaches the world size;
// the POSTs stay open until then.
func (t *HTTPTransport) Barrier(ctx context.Context) error {
	if t.rank != 0 {
		return t.post(ctx, 0, "/transport/barrier", &EnvelopeRequest{Source: t.rank})
	}

	release := t.enterBarrier()
	select {
	case <-release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *HTTPTransport) handleBarrier(w http.ResponseWriter, req *http.Request) {
	if t.rank != 0 {
		http.Error(w, "not the barrier root", http.StatusBadRequest)
		return
	}

	release := t.enterBarrier()
	select {
	case <-release:
		w.WriteHeader(http.StatusOK)
	case <-req.Context().Done():
	}
}

func (t *HTTPTransport) enterBarrier() chan struct{} {
	t.barrierMu.Lock()
	defer t.barrierMu.Unlock()

	release := t.barrierRelease
	t.barrierArrived++
	if t.barrierArrived == t.size {
		close(release)
		t.barrierArrived = 0
		t.barrierRelease = make(chan struct{})
	}
	return release
}

// post delivers one payload, retrying while the destination is still
// starting up (connection refused, or 503 before its transport routes are
// live). The context bounds the whole attempt.
func (t *HTTPTransport) post(ctx context.Context, dest int, path string, payload *EnvelopeRequest) error {
	body, err := protocol.SerializeMessage(payload)
	if err != nil {
		return err
	}

	for {
		retry, err := t.postOnce(ctx, dest, path, body)
		if err == nil || !retry {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *HTTPTransport) postOnce(ctx context.Context, dest int, path string, body []byte) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoints[dest]+path, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return false, nil
	case http.StatusServiceUnavailable:
		return true, fmt.Errorf("rank %d is not serving its transport yet", dest)
	default:
		msg, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("rank %d returned status %d: %s", dest, resp.StatusCode, string(msg))
	}
}
