// Package httpserver exposes the signaling surface: a health probe, an
// HTTP offer/answer exchange and a websocket for trickle ICE.
package httpserver

import (
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hkuwana/kaiwa-v2-sub000/internal/config"
	"github.com/hkuwana/kaiwa-v2-sub000/internal/events"
	"github.com/hkuwana/kaiwa-v2-sub000/internal/llm"
	"github.com/hkuwana/kaiwa-v2-sub000/internal/orchestrator"
	"github.com/hkuwana/kaiwa-v2-sub000/internal/realtime"
	"github.com/hkuwana/kaiwa-v2-sub000/internal/rtc"
	"github.com/hkuwana/kaiwa-v2-sub000/internal/speech"
	"github.com/hkuwana/kaiwa-v2-sub000/internal/transcript"
	"github.com/hkuwana/kaiwa-v2-sub000/internal/tts"
)

// Server bundles the echo instance and its route dependencies.
type Server struct {
	Echo *echo.Echo
}

// New constructs the HTTP server with routes wired to a per-call
// orchestrator factory.
func New(cfg config.Config, bus *events.Bus) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	transport := &realtime.WebRTCTransport{
		APIKey:         cfg.OpenAIKey,
		BaseURL:        cfg.RealtimeBaseURL,
		ICEServersJSON: cfg.ICEServersJSON,
	}

	completer := llm.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIChatModel)
	completer.Instructions = cfg.Instructions

	var synth tts.Streamer
	if cfg.TTSProvider == "elevenlabs" {
		synth = tts.NewElevenLabsClient(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID)
	} else {
		synth = tts.NewDeepgramClient(cfg.DeepgramKey, cfg.DeepgramModel)
	}
	speechSvc := speech.NewService(
		transcript.NewBatchClient(cfg.AssemblyAIKey, cfg.DefaultLanguage),
		completer,
		synth,
	)

	handler := &rtc.Handler{
		ICEServersJSON: cfg.ICEServersJSON,
		AuthPassword:   cfg.AuthPassword,
		Language:       cfg.DefaultLanguage,
		Voice:          cfg.DefaultVoice,
		AssemblyAIKey:  cfg.AssemblyAIKey,
		Bus:            bus,
		NewOrchestrator: func(dev *rtc.Device) *orchestrator.Orchestrator {
			return orchestrator.New(
				realtime.NewSessionManager(transport),
				realtime.NewStreamManager(transport),
				dev,
				speechSvc,
				bus,
				orchestrator.Config{
					Model:         cfg.RealtimeModel,
					Instructions:  cfg.Instructions,
					HealthTimeout: cfg.HealthTimeout,
				},
			)
		},
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.POST("/api/realtime/offer", func(c echo.Context) error {
		if !rtc.AuthOK(c.Request(), cfg.AuthPassword) {
			return c.NoContent(http.StatusUnauthorized)
		}
		var offer rtc.SessionDescription
		if err := c.Bind(&offer); err != nil {
			return c.NoContent(http.StatusBadRequest)
		}
		answer, err := handler.HandleOffer(c.Request().Context(), offer)
		if err != nil {
			if err.Error() == "invalid offer" {
				return c.NoContent(http.StatusBadRequest)
			}
			log.Printf("handle offer failed: %v", err)
			return c.NoContent(http.StatusInternalServerError)
		}
		return c.JSON(http.StatusOK, answer)
	})

	e.GET("/api/realtime/ws", func(c echo.Context) error {
		handler.ServeWebSocket(c.Response(), c.Request())
		return nil
	})

	return &Server{Echo: e}
}
