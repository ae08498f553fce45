package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IdanVahab/Temi-Server/internal/session"
	"github.com/IdanVahab/Temi-Server/pkg/types"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingSender) SendText(s string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, s)
	return nil
}

func (r *recordingSender) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func TestHandleMessageRepliesWithScenario(t *testing.T) {
	mgr := session.NewManager(session.Options{})
	sess := mgr.Open(session.KindWebRTC)
	out := &recordingSender{}

	handleMessage(context.Background(), sess, out, []byte(`{"labels":["cutlery"]}`))
	handleMessage(context.Background(), sess, out, []byte(`{"labels":["cutlery"]}`))

	sent := out.messages()
	require.Len(t, sent, 1, "second frame is inside the cooldown")
	var msg types.ScenarioMessage
	require.NoError(t, json.Unmarshal([]byte(sent[0]), &msg))
	assert.Equal(t, "cutlery_detected", msg.Scenario)
	assert.Equal(t, sess.ID, msg.SessionID)
}

func TestHandleMessageRepliesWithError(t *testing.T) {
	mgr := session.NewManager(session.Options{})
	sess := mgr.Open(session.KindWebRTC)
	out := &recordingSender{}

	handleMessage(context.Background(), sess, out, []byte(`not json`))
	handleMessage(context.Background(), sess, out, []byte(`{"labels":[""]}`))

	sent := out.messages()
	require.Len(t, sent, 2)
	for _, s := range sent {
		var e types.ErrorMessage
		require.NoError(t, json.Unmarshal([]byte(s), &e))
		assert.Contains(t, e.Error, "invalid input")
	}
}

func TestHandleOfferRejectsGarbage(t *testing.T) {
	srv := NewServer(session.NewManager(session.Options{}), nil, 1)

	_, err := srv.HandleOffer([]byte(`{`))
	assert.ErrorIs(t, err, ErrInvalidOffer)

	_, err = srv.HandleOffer([]byte(`{"type":"answer","sdp":"v=0"}`))
	assert.ErrorIs(t, err, ErrInvalidOffer)
	assert.Zero(t, srv.GetClientCount())
}

func newOffer(t *testing.T) []byte {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	_, err = pc.CreateDataChannel("frames", nil)
	require.NoError(t, err)

	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	gather := webrtc.GatheringCompletePromise(pc)
	require.NoError(t, pc.SetLocalDescription(offer))
	<-gather

	data, err := json.Marshal(pc.LocalDescription())
	require.NoError(t, err)
	return data
}

func TestHandleOfferAnswersAndLimitsClients(t *testing.T) {
	srv := NewServer(session.NewManager(session.Options{}), []string{}, 1)
	defer srv.Close()

	answerJSON, err := srv.HandleOffer(newOffer(t))
	require.NoError(t, err)

	var answer webrtc.SessionDescription
	require.NoError(t, json.Unmarshal(answerJSON, &answer))
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	assert.Contains(t, answer.SDP, "webrtc-datachannel")
	assert.Equal(t, 1, srv.GetClientCount())

	_, err = srv.HandleOffer(newOffer(t))
	assert.True(t, errors.Is(err, ErrTooManyClients))

	require.NoError(t, srv.Close())
	assert.Zero(t, srv.GetClientCount())
}

func TestHandleOfferConcurrentRespectsLimit(t *testing.T) {
	srv := NewServer(session.NewManager(session.Options{}), []string{}, 1)
	defer srv.Close()

	offers := make([][]byte, 4)
	for i := range offers {
		offers[i] = newOffer(t)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(offers))
	for i, offer := range offers {
		wg.Add(1)
		go func(i int, offer []byte) {
			defer wg.Done()
			_, errs[i] = srv.HandleOffer(offer)
		}(i, offer)
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		assert.ErrorIs(t, err, ErrTooManyClients)
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, srv.GetClientCount())
}

func TestChannelsSharingALabelGetOwnSessions(t *testing.T) {
	mgr := session.NewManager(session.Options{})
	srv := NewServer(mgr, []string{}, 2)
	defer srv.Close()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer pc.Close()

	var opened sync.WaitGroup
	replies := make([]chan string, 2)
	channels := make([]*webrtc.DataChannel, 2)
	for i := range channels {
		dc, err := pc.CreateDataChannel("frames", nil)
		require.NoError(t, err)
		ch := make(chan string, 4)
		replies[i] = ch
		opened.Add(1)
		dc.OnOpen(opened.Done)
		dc.OnMessage(func(msg webrtc.DataChannelMessage) { ch <- string(msg.Data) })
		channels[i] = dc
	}

	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	gather := webrtc.GatheringCompletePromise(pc)
	require.NoError(t, pc.SetLocalDescription(offer))
	<-gather
	offerJSON, err := json.Marshal(pc.LocalDescription())
	require.NoError(t, err)

	answerJSON, err := srv.HandleOffer(offerJSON)
	require.NoError(t, err)
	var answer webrtc.SessionDescription
	require.NoError(t, json.Unmarshal(answerJSON, &answer))
	require.NoError(t, pc.SetRemoteDescription(answer))

	opened.Wait()
	require.Eventually(t, func() bool { return mgr.Len() == 2 }, 5*time.Second, 10*time.Millisecond)

	// Each channel drives its own engine, so both see a first report
	for i, dc := range channels {
		require.NoError(t, dc.SendText(`{"labels":["cutlery"]}`))
		select {
		case reply := <-replies[i]:
			var msg types.ScenarioMessage
			require.NoError(t, json.Unmarshal([]byte(reply), &msg))
			assert.Equal(t, "cutlery_detected", msg.Scenario)
		case <-time.After(5 * time.Second):
			t.Fatalf("no reply on channel %d", i)
		}
	}

	require.NoError(t, srv.Close())
	assert.Zero(t, mgr.Len(), "closing the server closes every channel session")
}
