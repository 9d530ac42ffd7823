package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"github.com/hkuwana/kaiwa-v2-sub000/internal/barge"
	"github.com/hkuwana/kaiwa-v2-sub000/internal/events"
	"github.com/hkuwana/kaiwa-v2-sub000/internal/orchestrator"
	"github.com/hkuwana/kaiwa-v2-sub000/internal/realtime"
	"github.com/hkuwana/kaiwa-v2-sub000/internal/transcript"
)

// SessionDescription is a small DTO so transports do not expose webrtc types.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Handler negotiates browser peer connections and runs one conversation
// orchestrator per call.
type Handler struct {
	ICEServersJSON string
	AuthPassword   string
	Language       string
	Voice          string

	// AssemblyAIKey enables the per-call live transcriber that feeds the
	// barge-in detector. Empty disables it; energy detection still runs.
	AssemblyAIKey string

	// Bus, when set, lets the detector discount assistant replies so their
	// echo does not read as the user talking.
	Bus *events.Bus

	// NewOrchestrator builds the per-call orchestrator around the call's
	// audio device.
	NewOrchestrator func(dev *Device) *orchestrator.Orchestrator
}

// signalMessage is the websocket signaling frame format.
// Types: "auth", "offer", "answer", "candidate", "ice-complete", "bye", "error".
type signalMessage struct {
	Type string `json:"type"`
	// auth
	Password string `json:"password,omitempty"`
	// offer/answer
	SDP string `json:"sdp,omitempty"`
	// candidate
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// Allow any origin for demo use; restrict in production
		return true
	},
}

// HandleOffer accepts an SDP offer over HTTP and returns a non-trickle
// answer with all candidates gathered.
func (h *Handler) HandleOffer(ctx context.Context, offer SessionDescription) (SessionDescription, error) {
	if offer.Type != "offer" || offer.SDP == "" {
		return SessionDescription{}, errors.New("invalid offer")
	}

	callID := generateCallID()
	pc, dev, err := h.createPeer()
	if err != nil {
		return SessionDescription{}, err
	}
	h.attachCall(callID, pc, dev)

	remoteOffer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := pc.SetRemoteDescription(remoteOffer); err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	<-gatherComplete
	local := pc.LocalDescription()
	if local == nil {
		_ = pc.Close()
		return SessionDescription{}, errors.New("no local description")
	}
	return SessionDescription{Type: "answer", SDP: local.SDP}, nil
}

// ServeWebSocket upgrades to websocket and performs offer/answer plus
// trickle ICE signaling: auth (optional) -> offer -> candidates.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	if !AuthOK(r, h.AuthPassword) {
		// wait for an auth frame
		mt, data, rerr := conn.ReadMessage()
		if rerr != nil || mt != websocket.TextMessage {
			writeWSError(conn, errors.New("auth required"))
			return
		}
		var m signalMessage
		if jerr := json.Unmarshal(data, &m); jerr != nil || strings.ToLower(m.Type) != "auth" || m.Password != h.AuthPassword {
			writeWSError(conn, errors.New("unauthorized"))
			return
		}
	}

	var offerSDP string
	for {
		mt, data, rerr := conn.ReadMessage()
		if rerr != nil {
			log.Printf("ws read error before offer: %v", rerr)
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var m signalMessage
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		switch strings.ToLower(m.Type) {
		case "offer":
			if m.SDP != "" {
				offerSDP = m.SDP
			}
		case "bye":
			return
		}
		if offerSDP != "" {
			break
		}
	}

	pc, dev, err := h.createPeer()
	if err != nil {
		writeWSError(conn, err)
		return
	}
	defer func() { _ = pc.Close() }()

	callID := generateCallID()

	// Trickle local candidates to the client.
	var wsWriteMu sync.Mutex
	send := func(m signalMessage) {
		wsWriteMu.Lock()
		defer wsWriteMu.Unlock()
		_ = conn.WriteJSON(m)
	}
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			send(signalMessage{Type: "ice-complete"})
			return
		}
		init := c.ToJSON()
		send(signalMessage{Type: "candidate", Candidate: init.Candidate, SDPMid: init.SDPMid, SDPMLineIndex: init.SDPMLineIndex})
	})

	// Remote trickle candidates from the client.
	go func() {
		for {
			_, data, rerr := conn.ReadMessage()
			if rerr != nil {
				return
			}
			var m signalMessage
			if json.Unmarshal(data, &m) != nil {
				continue
			}
			switch strings.ToLower(m.Type) {
			case "candidate":
				if m.Candidate == "" {
					continue
				}
				_ = pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: m.Candidate, SDPMid: m.SDPMid, SDPMLineIndex: m.SDPMLineIndex})
			case "bye":
				_ = pc.Close()
				return
			}
		}
	}()

	remoteOffer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := pc.SetRemoteDescription(remoteOffer); err != nil {
		writeWSError(conn, err)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		writeWSError(conn, err)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		writeWSError(conn, err)
		return
	}
	local := pc.LocalDescription()
	if local == nil {
		writeWSError(conn, errors.New("no local description"))
		return
	}
	send(signalMessage{Type: "answer", SDP: local.SDP})

	h.attachCall(callID, pc, dev)

	// Hold the connection until the peer goes away.
	for {
		time.Sleep(2 * time.Second)
		state := pc.ConnectionState()
		if state == webrtc.PeerConnectionStateClosed || state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateDisconnected {
			return
		}
	}
}

// createPeer prepares a PeerConnection with codecs and interceptors, builds
// the call's audio device and adds its outbound track.
func (h *Handler) createPeer() (*webrtc.PeerConnection, *Device, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return nil, nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: realtime.ParseICEServers(h.ICEServersJSON)})
	if err != nil {
		return nil, nil, err
	}
	dev, err := NewDevice()
	if err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	if _, err := pc.AddTrack(dev.OutputTrack()); err != nil {
		dev.Close()
		_ = pc.Close()
		return nil, nil, err
	}
	return pc, dev, nil
}

// attachCall wires the media, control channel and lifecycle of one call.
func (h *Handler) attachCall(callID string, pc *webrtc.PeerConnection, dev *Device) {
	orch := h.NewOrchestrator(dev)
	var startOnce sync.Once
	var endOnce sync.Once

	det := barge.NewDetector(barge.DefaultConfig(), barge.Events{
		OnTrigger: func(time.Time) {
			log.Printf("[%s] Barge-in detected, cutting playback", callID)
			dev.Speaker().Reset()
		},
	})
	var respSub int
	if h.Bus != nil {
		respSub = h.Bus.On(events.ResponseReceived, func(ev events.Event) {
			if ev.SessionID != orch.Conversation().SessionID {
				return
			}
			if text, ok := ev.Payload["text"].(string); ok {
				det.NotifySpoken(text)
			}
		})
	}

	var live *transcript.LiveTranscriber
	if h.AssemblyAIKey != "" {
		live = transcript.NewLiveTranscriber(h.AssemblyAIKey, h.Language)
		if err := live.Connect(); err != nil {
			log.Printf("[%s] live transcriber unavailable: %v", callID, err)
			live = nil
		} else {
			go func() {
				for p := range live.Partials() {
					det.NotifyPartial(p)
				}
			}()
			go func() {
				for u := range live.Utterances() {
					log.Printf("[%s] Utterance: %q", callID, u)
				}
			}()
		}
	}

	dev.SetPCMHandler(func(pcm []byte) {
		det.SetSpeaking(dev.Speaker().Active(250 * time.Millisecond))
		det.FeedMic(pcm)
		if live != nil {
			_ = live.SendPCM(pcm)
		}
	})

	endCall := func() {
		endOnce.Do(func() {
			orch.EndConversation()
			if h.Bus != nil {
				h.Bus.Off(events.ResponseReceived, respSub)
			}
			if live != nil {
				_ = live.Close()
			}
			dev.Speaker().FlushTail()
			time.AfterFunc(400*time.Millisecond, dev.Close)
			_ = pc.Close()
		})
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("[%s] PeerConnection state: %s", callID, state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			endCall()
		}
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		log.Printf("[%s] ICE state: %s", callID, state.String())
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != "control" {
			return
		}
		log.Printf("[%s] Control channel opened", callID)
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			cmd := strings.TrimSpace(strings.ToLower(string(msg.Data)))
			switch cmd {
			case "stop", "stop-speaking", "cancel", "barge-in":
				dev.Speaker().Reset()
				det.Reset()
			case "record-start":
				if err := orch.StartRecording("browser-mic"); err != nil {
					log.Printf("[%s] record start: %v", callID, err)
				}
			case "record-stop":
				go func() {
					ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
					defer cancel()
					if err := orch.StopRecording(ctx); err != nil {
						log.Printf("[%s] record stop: %v", callID, err)
					}
				}()
			case "end", "bye":
				endCall()
			}
		})
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		log.Printf("[%s] Remote audio track received: codec=%s", callID, remote.Codec().MimeType)

		go func() {
			for {
				pkt, _, readErr := remote.ReadRTP()
				if readErr != nil {
					return
				}
				dev.Ingest(pkt)
			}
		}()

		startOnce.Do(func() {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := orch.StartConversation(ctx, h.Language, h.Voice); err != nil {
					log.Printf("[%s] start conversation: %v", callID, err)
				}
			}()
		})
	})
}

// AuthOK accepts the request when no password is configured, or when it
// carries the password via query, bearer token or X-Auth-Token header. Both
// the websocket upgrade and the HTTP offer route gate on it.
func AuthOK(r *http.Request, password string) bool {
	if password == "" {
		return true
	}
	if r == nil {
		return false
	}
	if q := r.URL.Query().Get("password"); q != "" && q == password {
		return true
	}
	ah := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		tok := strings.TrimSpace(ah[len("Bearer "):])
		if tok == password {
			return true
		}
	}
	if x := r.Header.Get("X-Auth-Token"); x != "" && x == password {
		return true
	}
	return false
}

func writeWSError(conn *websocket.Conn, err error) {
	_ = conn.WriteJSON(map[string]string{"type": "error", "error": err.Error()})
}

func generateCallID() string { return time.Now().Format("0102150405.000") }
