// Package webrtc accepts WebRTC peers whose data channels carry frames.
// Every data channel a peer opens is its own monitoring session.
package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/IdanVahab/Temi-Server/internal/logger"
	"github.com/IdanVahab/Temi-Server/internal/scenario"
	"github.com/IdanVahab/Temi-Server/internal/session"
	"github.com/IdanVahab/Temi-Server/pkg/types"
)

var log = logger.Module("WebRTC")

var (
	// ErrTooManyClients is returned by HandleOffer when the server is full.
	ErrTooManyClients = errors.New("maximum clients reached")
	// ErrInvalidOffer is returned for offers that are not a JSON SDP offer.
	ErrInvalidOffer = errors.New("invalid offer")
)

// Client represents a connected WebRTC peer
type Client struct {
	id       string
	peerConn *webrtc.PeerConnection
	ctx      context.Context
	cancel   context.CancelFunc

	mu       sync.Mutex
	closed   bool
	sessions map[*webrtc.DataChannel]string // labels are not unique
}

// Server manages WebRTC connections
type Server struct {
	clients    map[string]*Client
	pending    int // offers holding a reserved slot
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
	sessions   *session.Manager
}

// NewServer creates a new WebRTC server
func NewServer(sessions *session.Manager, stunServers []string, maxClients int) *Server {
	// Configure ICE servers
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}

	// If no STUN servers provided, use default
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		}
	}
	if maxClients <= 0 {
		maxClients = 10
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	// Data channels only; no media codecs are registered.
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine))

	return &Server{
		clients: make(map[string]*Client),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		maxClients: maxClients,
		api:        api,
		sessions:   sessions,
	}
}

// HandleOffer handles a WebRTC offer and returns an answer
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOffer, err)
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return nil, fmt.Errorf("%w: expected type offer with sdp", ErrInvalidOffer)
	}

	// Reserve a slot so concurrent offers cannot overshoot the limit
	s.clientsMu.Lock()
	if len(s.clients)+s.pending >= s.maxClients {
		s.clientsMu.Unlock()
		return nil, fmt.Errorf("%w (%d)", ErrTooManyClients, s.maxClients)
	}
	s.pending++
	s.clientsMu.Unlock()

	registered := false
	defer func() {
		if !registered {
			s.clientsMu.Lock()
			s.pending--
			s.clientsMu.Unlock()
		}
	}()

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		id:       uuid.NewString(),
		peerConn: peerConn,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[*webrtc.DataChannel]string),
	}

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		s.attachChannel(client, dc)
	})

	// Peer connection state covers ICE and DTLS failures
	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug("Client %s connection state: %s", client.id, state.String())

		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			log.Info("Client %s connection lost (Peer: %s), removing...", client.id, state.String())
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		cancel()
		peerConn.Close()
		return nil, fmt.Errorf("%w: failed to set remote description: %v", ErrInvalidOffer, err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		cancel()
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)

	if err := peerConn.SetLocalDescription(answer); err != nil {
		cancel()
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	// Wait for ICE gathering so the answer carries its candidates
	<-gatherComplete
	log.Debug("ICE gathering complete for client %s", client.id)

	s.clientsMu.Lock()
	s.pending--
	s.clients[client.id] = client
	registered = true
	s.clientsMu.Unlock()

	log.Info("Client %s connected", client.id)

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("no local description available")
	}

	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}

	return answerJSON, nil
}

// textSender is the part of a data channel used for replies.
type textSender interface {
	SendText(string) error
}

func (s *Server) attachChannel(client *Client, dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		sess := s.sessions.Open(session.KindWebRTC)
		client.mu.Lock()
		if client.closed {
			client.mu.Unlock()
			_ = s.sessions.Close(sess.ID)
			return
		}
		client.sessions[dc] = sess.ID
		client.mu.Unlock()
		log.Info("Client %s opened channel %q as session %s", client.id, dc.Label(), sess.ID)
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		client.mu.Lock()
		id, ok := client.sessions[dc]
		client.mu.Unlock()
		if !ok {
			return
		}
		sess, err := s.sessions.Get(id)
		if err != nil {
			return
		}
		handleMessage(client.ctx, sess, dc, msg.Data)
	})

	dc.OnClose(func() {
		client.mu.Lock()
		id, ok := client.sessions[dc]
		delete(client.sessions, dc)
		client.mu.Unlock()
		if ok {
			_ = s.sessions.Close(id)
		}
	})
}

// handleMessage runs one frame and replies on the channel with the
// ScenarioMessage JSON, an error object, or nothing.
func handleMessage(ctx context.Context, sess *session.Session, dc textSender, data []byte) {
	frame, err := session.DecodeFrame(data)
	if err == nil {
		var msg *types.ScenarioMessage
		msg, err = sess.Process(ctx, frame)
		if err == nil {
			if msg != nil {
				sendJSON(dc, msg)
			}
			sess.Caption(ctx, frame.Labels, func(c types.CaptionMessage) {
				sendJSON(dc, c)
			})
			return
		}
	}

	if errors.Is(err, scenario.ErrInvalidInput) {
		log.Debug("Session %s rejected frame: %v", sess.ID, err)
		sendJSON(dc, types.ErrorMessage{Error: err.Error()})
		return
	}
	log.Warn("Session %s: %v", sess.ID, err)
}

func sendJSON(dc textSender, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error("Marshal reply: %v", err)
		return
	}
	if err := dc.SendText(string(data)); err != nil {
		log.Debug("Send on data channel failed: %v", err)
	}
}

// RemoveClient removes a client by ID and closes its sessions
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	s.clientsMu.Unlock()
	if !exists {
		return
	}

	client.cancel()
	client.mu.Lock()
	client.closed = true
	ids := make([]string, 0, len(client.sessions))
	for dc, id := range client.sessions {
		ids = append(ids, id)
		delete(client.sessions, dc)
	}
	client.mu.Unlock()
	for _, id := range ids {
		_ = s.sessions.Close(id)
	}
	client.peerConn.Close()

	log.Info("Client %s disconnected (%d sessions closed)", clientID, len(ids))
}

// GetClientCount returns the number of connected clients
func (s *Server) GetClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.RLock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.clientsMu.RUnlock()

	for _, id := range ids {
		s.RemoveClient(id)
	}
	return nil
}
