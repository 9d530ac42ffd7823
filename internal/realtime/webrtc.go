package realtime

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
)

// WebRTCTransport negotiates sessions and media channels against an
// OpenAI-realtime-shaped provider: an ephemeral credential is minted over
// HTTPS, then a pion peer connection carries audio both ways with a data
// channel for transcript/response events.
type WebRTCTransport struct {
	APIKey         string
	BaseURL        string
	ICEServersJSON string
	HTTPClient     *http.Client
}

func NewWebRTCTransport(apiKey, baseURL, iceServersJSON string) *WebRTCTransport {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &WebRTCTransport{
		APIKey:         apiKey,
		BaseURL:        strings.TrimRight(baseURL, "/"),
		ICEServersJSON: iceServersJSON,
		HTTPClient:     &http.Client{Timeout: 15 * time.Second},
	}
}

type createSessionRequest struct {
	Model        string   `json:"model"`
	Voice        string   `json:"voice,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
	Modalities   []string `json:"modalities,omitempty"`
	Temperature  float64  `json:"temperature,omitempty"`
}

type createSessionResponse struct {
	ID           string `json:"id"`
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

// CreateSession mints an ephemeral credential scoped to one streaming
// session. A 429 maps to ErrRateLimited; a success payload without id or
// secret maps to ErrMalformedSession.
func (t *WebRTCTransport) CreateSession(ctx context.Context, cfg Config) (*Session, error) {
	if t.APIKey == "" {
		return nil, fmt.Errorf("realtime: api key missing")
	}
	body, _ := json.Marshal(createSessionRequest{
		Model:        cfg.Model,
		Voice:        cfg.Voice,
		Instructions: cfg.Instructions,
		Modalities:   []string{"audio", "text"},
		Temperature:  cfg.Temperature,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/v1/realtime/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+t.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OpenAI-Beta", "realtime=v1")

	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("realtime: session create status=%d body=%s", resp.StatusCode, string(b))
	}
	var sr createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSession, err)
	}
	if sr.ID == "" || sr.ClientSecret.Value == "" {
		return nil, ErrMalformedSession
	}
	expires := time.Unix(sr.ClientSecret.ExpiresAt, 0)
	if sr.ClientSecret.ExpiresAt == 0 {
		expires = time.Now().Add(time.Minute)
	}
	return &Session{
		ID:           sr.ID,
		ClientSecret: sr.ClientSecret.Value,
		ExpiresAt:    expires,
		Status:       SessionConnecting,
		CreatedAt:    time.Now(),
	}, nil
}

// CloseSession has no provider-side call; ephemeral sessions expire on their
// own. Kept so the port stays symmetric and mockable.
func (t *WebRTCTransport) CloseSession(ctx context.Context, sess *Session) error {
	return nil
}

// ProbeSession checks API reachability with the standing credential.
func (t *WebRTCTransport) ProbeSession(ctx context.Context, sess *Session) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.BaseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+t.APIKey)
	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("realtime: probe status=%d", resp.StatusCode)
	}
	return nil
}

// OpenChannel runs the negotiation: peer connection, local track attached
// before the offer is generated (attaching after can yield an offer that
// never negotiates the audio leg), offer as local description, SDP handed
// off with the session's ephemeral credential, answer applied as remote
// description.
func (t *WebRTCTransport) OpenChannel(ctx context.Context, sess *Session, track LocalTrack, ev Events) (Channel, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: ParseICEServers(t.ICEServersJSON)})
	if err != nil {
		return nil, err
	}

	// Local audio leg first.
	if track != nil {
		local, ok := track.(webrtc.TrackLocal)
		if !ok {
			_ = pc.Close()
			return nil, fmt.Errorf("realtime: unsupported local track %T", track)
		}
		if _, err := pc.AddTrack(local); err != nil {
			_ = pc.Close()
			return nil, err
		}
	}

	dc, err := pc.CreateDataChannel("oai-events", nil)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.decodeServerEvent(sess.ID, msg.Data, ev)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("[%s] PeerConnection state: %s", sess.ID, state.String())
		if ev.OnConnectionChange != nil {
			ev.OnConnectionChange(state.String())
		}
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio || ev.OnAudioResponse == nil {
			return
		}
		go func() {
			for {
				pkt, _, readErr := remote.ReadRTP()
				if readErr != nil {
					return
				}
				if len(pkt.Payload) > 0 {
					ev.OnAudioResponse(pkt.Payload)
				}
			}
		}()
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return nil, err
	}
	<-gatherComplete
	local := pc.LocalDescription()
	if local == nil {
		_ = pc.Close()
		return nil, fmt.Errorf("realtime: no local description")
	}

	answerSDP, err := t.exchangeSDP(ctx, sess, local.SDP)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}); err != nil {
		_ = pc.Close()
		return nil, err
	}

	return &webrtcChannel{pc: pc, dc: dc}, nil
}

// exchangeSDP authenticates with the ephemeral credential, not the API key.
func (t *WebRTCTransport) exchangeSDP(ctx context.Context, sess *Session, offerSDP string) (string, error) {
	u := fmt.Sprintf("%s/v1/realtime?model=%s", t.BaseURL, sess.Config.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(offerSDP))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+sess.ClientSecret)
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("OpenAI-Beta", "realtime=v1")

	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("realtime: sdp exchange status=%d body=%s", resp.StatusCode, string(body))
	}
	answer := string(body)
	if !strings.Contains(answer, "v=0") {
		return "", fmt.Errorf("realtime: invalid sdp answer")
	}
	return answer, nil
}

// decodeServerEvent maps provider data-channel events onto the transport
// callbacks.
func (t *WebRTCTransport) decodeServerEvent(sessionID string, data []byte, ev Events) {
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		log.Printf("[%s] undecodable server event: %v", sessionID, err)
		return
	}
	switch base.Type {
	case "conversation.item.input_audio_transcription.completed":
		var msg struct {
			Transcript string `json:"transcript"`
		}
		if json.Unmarshal(data, &msg) == nil && msg.Transcript != "" && ev.OnTranscript != nil {
			ev.OnTranscript(msg.Transcript)
		}
	case "response.audio_transcript.done", "response.text.done":
		var msg struct {
			Transcript string `json:"transcript"`
			Text       string `json:"text"`
		}
		if json.Unmarshal(data, &msg) == nil && ev.OnResponse != nil {
			if msg.Transcript != "" {
				ev.OnResponse(msg.Transcript)
			} else if msg.Text != "" {
				ev.OnResponse(msg.Text)
			}
		}
	case "response.audio.delta":
		var msg struct {
			Delta string `json:"delta"`
		}
		if json.Unmarshal(data, &msg) == nil && msg.Delta != "" && ev.OnAudioResponse != nil {
			if pcm, err := base64.StdEncoding.DecodeString(msg.Delta); err == nil {
				ev.OnAudioResponse(pcm)
			}
		}
	case "error":
		var msg struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &msg) == nil && ev.OnError != nil {
			ev.OnError(fmt.Errorf("realtime: %s", msg.Error.Message))
		}
	}
}

type webrtcChannel struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel
}

// Send appends raw PCM16 audio into the remote input buffer via the event
// channel. The media track carries the live microphone leg; this path
// exists for buffered chunk sends.
func (c *webrtcChannel) Send(chunk []byte) error {
	payload, _ := json.Marshal(map[string]string{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(chunk),
	})
	return c.dc.SendText(string(payload))
}

func (c *webrtcChannel) Close() error {
	_ = c.dc.Close()
	return c.pc.Close()
}

// ParseICEServers decodes a JSON ICE server list, falling back to a public
// STUN server when the value is empty or malformed. Shared with the browser
// signaling side.
func ParseICEServers(iceJSON string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if err := json.Unmarshal([]byte(iceJSON), &servers); err == nil && len(servers) > 0 {
		return servers
	}
	return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
}
