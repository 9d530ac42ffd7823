package tts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// Deepgram without an API key should error quickly.
func TestDeepgram_Stream_NoKey(t *testing.T) {
	d := NewDeepgramClient("", "")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	pcmCh, errCh := d.Stream(ctx, "hello")
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected error when api key missing")
		}
	case <-pcmCh:
		// ignore
	case <-time.After(300 * time.Millisecond):
		t.Fatalf("timeout waiting for error")
	}
}

type chunkStreamer struct {
	chunks [][]byte
	err    error
}

func (s *chunkStreamer) Stream(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, len(s.chunks))
	errCh := make(chan error, 1)
	go func() {
		defer close(pcmCh)
		defer close(errCh)
		for _, c := range s.chunks {
			pcmCh <- c
		}
		if s.err != nil {
			errCh <- s.err
		}
	}()
	return pcmCh, errCh
}

func TestCollect_ConcatenatesChunks(t *testing.T) {
	s := &chunkStreamer{chunks: [][]byte{{1, 2}, {3}, {4, 5, 6}}}
	got, err := Collect(context.Background(), s, "hi")
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if string(got) != string([]byte{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("unexpected audio: %v", got)
	}
}

func TestCollect_ReturnsFirstError(t *testing.T) {
	wantErr := errors.New("synthesis failed")
	s := &chunkStreamer{chunks: [][]byte{{1}}, err: wantErr}
	_, err := Collect(context.Background(), s, "hi")
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected streamer error, got %v", err)
	}
}

func TestElevenLabs_StreamsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "k" {
			t.Errorf("missing api key header")
		}
		if !strings.HasPrefix(r.URL.Path, "/v1/text-to-speech/voice-1/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte("pcm-bytes"))
	}))
	defer srv.Close()

	e := NewElevenLabsClient("k", "voice-1")
	e.BaseURL = srv.URL
	got, err := Collect(context.Background(), e, "hola")
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if string(got) != "pcm-bytes" {
		t.Fatalf("unexpected audio %q", got)
	}
}

func TestElevenLabs_MissingCredentials(t *testing.T) {
	e := NewElevenLabsClient("", "")
	_, err := Collect(context.Background(), e, "hola")
	if err == nil {
		t.Fatalf("expected error without credentials")
	}
}

func TestElevenLabs_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad voice", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	e := NewElevenLabsClient("k", "voice-1")
	e.BaseURL = srv.URL
	if _, err := Collect(context.Background(), e, "hola"); err == nil {
		t.Fatalf("expected error from non-2xx response")
	}
}
