// Command lokutor-relay is the composition root: it loads configuration
// and secrets, wires mic capture through VAD gating, a managed STT
// controller, the translation hub, and the smart OSC queue, and runs until
// interrupted. Grounded in the teacher's cmd/agent/main.go (malgo device
// setup, signal handling, event-to-console bridging) and MrWong99-glyphoxa's
// cmd/glyphoxa/main.go (slog-based composition root shape).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gen2brain/malgo"
	"github.com/joho/godotenv"

	"github.com/lokutor-ai/lokutor-relay/internal/audio"
	"github.com/lokutor-ai/lokutor-relay/internal/clock"
	"github.com/lokutor-ai/lokutor-relay/internal/config"
	"github.com/lokutor-ai/lokutor-relay/internal/llm"
	"github.com/lokutor-ai/lokutor-relay/internal/llm/anthropic"
	"github.com/lokutor-ai/lokutor-relay/internal/llm/google"
	"github.com/lokutor-ai/lokutor-relay/internal/llm/openai"
	"github.com/lokutor-ai/lokutor-relay/internal/logging"
	"github.com/lokutor-ai/lokutor-relay/internal/managedstt"
	"github.com/lokutor-ai/lokutor-relay/internal/orchestrator"
	"github.com/lokutor-ai/lokutor-relay/internal/osc"
	"github.com/lokutor-ai/lokutor-relay/internal/secretstore"
	"github.com/lokutor-ai/lokutor-relay/internal/stt"
	"github.com/lokutor-ai/lokutor-relay/internal/stt/deepgram"
	"github.com/lokutor-ai/lokutor-relay/internal/vad"
)

// slogLogger adapts log/slog to the injected logging.Logger interface.
type slogLogger struct{ l *slog.Logger }

func (s slogLogger) Debug(msg string, args ...interface{}) { s.l.Debug(msg, args...) }
func (s slogLogger) Info(msg string, args ...interface{})  { s.l.Info(msg, args...) }
func (s slogLogger) Warn(msg string, args ...interface{})  { s.l.Warn(msg, args...) }
func (s slogLogger) Error(msg string, args ...interface{}) { s.l.Error(msg, args...) }

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Note: no .env file found, using system environment variables")
	}

	logger := slogLogger{l: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))}

	cfg, err := config.Load(os.Getenv("LOKUTOR_CONFIG_PATH"))
	if err != nil {
		logger.Error("config load failed", "err", err)
		os.Exit(1)
	}

	secrets := secretstore.New()
	llmKey := lookupSecret(secrets, logger, cfg.LLM.Provider+"_api_key", envKeyForProvider(cfg.LLM.Provider))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	translateProvider, err := buildLLMProvider(ctx, cfg.LLM, llmKey)
	if err != nil {
		logger.Error("llm provider init failed", "err", err)
		os.Exit(1)
	}
	defer translateProvider.Close()
	translateProvider = llm.WithConcurrencyLimit(translateProvider, cfg.LLM.ConcurrencyLimit)

	oscCfg := osc.Config{
		Host:           cfg.OSC.Host,
		Port:           cfg.OSC.Port,
		ChatboxAddress: cfg.OSC.ChatboxAddress,
		TypingAddress:  cfg.OSC.TypingAddress,
		ChatboxSend:    true,
		ChatboxClear:   true,
	}
	sender, err := osc.NewUDPSender(oscCfg)
	if err != nil {
		logger.Error("osc sender init failed", "err", err)
		os.Exit(1)
	}
	defer sender.Close()

	sysClock := clock.NewSystemClock()
	oscQueue, err := osc.NewQueue(sender, sysClock, cfg.OSC.ChatboxMaxChars, cfg.OSC.CooldownS, cfg.OSC.TTLS)
	if err != nil {
		logger.Error("osc queue init failed", "err", err)
		os.Exit(1)
	}

	var sttProvider orchestrator.STTProvider
	sttBackend, sttKey := buildSTTBackend(cfg, secrets, logger)
	if sttBackend != nil && sttKey != "" {
		controller, err := managedstt.New(sttBackend, managedstt.Config{
			SampleRateHz:   cfg.Audio.InternalSampleRateHz,
			ResetDeadlineS: cfg.STT.ResetDeadlineS,
			DrainTimeoutS:  cfg.STT.DrainTimeoutS,
			BridgingMs:     300,
		}, sysClock, logger)
		if err != nil {
			logger.Error("managed stt init failed", "err", err)
			os.Exit(1)
		}
		sttProvider = controller
	} else {
		logger.Warn("no STT api key set, running without STT (text-only via SubmitText)")
	}

	hub := orchestrator.New(sttProvider, translateProvider, oscQueue, sysClock, logger, orchestrator.Config{
		SourceLanguage:     cfg.Languages.SourceLanguage,
		TargetLanguage:     cfg.Languages.TargetLanguage,
		SystemPrompt:       cfg.SystemPrompt,
		TranslationEnabled: true,
		ContextTimeWindowS: 20.0,
		ContextMaxEntries:  3,
		HangoverS:          0.3,
	})
	hub.Start(ctx, true)
	defer hub.Stop()

	go logUIEvents(ctx, hub, logger)

	gating, err := vad.NewGating(vad.NewRMSEngine(1.0), vad.Config{
		SampleRateHz:    cfg.Audio.InternalSampleRateHz,
		RingBufferMs:    cfg.Audio.RingBufferMs,
		SpeechThreshold: cfg.STT.VadSpeechThreshold,
		HangoverMs:      500,
	})
	if err != nil {
		logger.Error("vad init failed", "err", err)
		os.Exit(1)
	}

	device, err := startCapture(cfg, gating, hub, logger)
	if err != nil {
		logger.Error("audio capture init failed", "err", err)
		os.Exit(1)
	}
	defer device.Uninit()

	fmt.Printf("lokutor-relay listening: %s -> %s, osc %s:%d\n", cfg.Languages.SourceLanguage, cfg.Languages.TargetLanguage, cfg.OSC.Host, cfg.OSC.Port)
	fmt.Println("Press Ctrl+C to exit")

	<-ctx.Done()
	fmt.Println("\nShutting down...")
}

func lookupSecret(store *secretstore.Store, logger logging.Logger, secretKey, envKey string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if secretstore.Available() {
		got, err := store.Get(secretKey)
		if err != nil {
			logger.Warn("secret lookup failed", "key", secretKey, "err", err)
			return ""
		}
		if got != nil {
			return *got
		}
	}
	return ""
}

func envKeyForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}

// buildSTTBackend selects a stt.Backend per cfg.STT.Provider: a real
// streaming Deepgram backend, or one of the REST-only whisper-compatible /
// AssemblyAI vendors adapted into the batch contract. Returns a nil backend
// if no API key is configured for the selected vendor.
func buildSTTBackend(cfg *config.AppConfig, secrets *secretstore.Store, logger logging.Logger) (stt.Backend, string) {
	switch cfg.STT.Provider {
	case "openai":
		key := lookupSecret(secrets, logger, "openai_api_key", "OPENAI_API_KEY")
		if key == "" {
			return nil, ""
		}
		transcriber := stt.NewWhisperTranscriber("https://api.openai.com/v1/audio/transcriptions", key, "whisper-1")
		return stt.NewBatchBackend(transcriber, cfg.Audio.InternalSampleRateHz), key
	case "groq":
		key := lookupSecret(secrets, logger, "groq_api_key", "GROQ_API_KEY")
		if key == "" {
			return nil, ""
		}
		transcriber := stt.NewWhisperTranscriber("https://api.groq.com/openai/v1/audio/transcriptions", key, "whisper-large-v3-turbo")
		return stt.NewBatchBackend(transcriber, cfg.Audio.InternalSampleRateHz), key
	case "assemblyai":
		key := lookupSecret(secrets, logger, "assemblyai_api_key", "ASSEMBLYAI_API_KEY")
		if key == "" {
			return nil, ""
		}
		transcriber := stt.NewAssemblyAITranscriber(key, cfg.Languages.SourceLanguage)
		return stt.NewBatchBackend(transcriber, cfg.Audio.InternalSampleRateHz), key
	default:
		key := lookupSecret(secrets, logger, "deepgram_api_key", "DEEPGRAM_API_KEY")
		if key == "" {
			return nil, ""
		}
		return deepgram.New(key, cfg.Audio.InternalSampleRateHz, cfg.Languages.SourceLanguage), key
	}
}

func buildLLMProvider(ctx context.Context, cfg config.LLM, apiKey string) (llm.Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.New(apiKey, cfg.Model)
	case "google":
		return google.New(ctx, apiKey, cfg.Model)
	default:
		return openai.New(apiKey, cfg.Model)
	}
}

func logUIEvents(ctx context.Context, hub *orchestrator.Hub, logger logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-hub.UIEvents():
			if !ok {
				return
			}
			logger.Info("ui event", "type", ev.Type.String(), "source", ev.Source)
		}
	}
}

// startCapture opens a duplex malgo device, feeding mono PCM16LE capture
// through the normalizer and VAD gating into the hub's HandleVadEvent.
func startCapture(cfg *config.AppConfig, gating *vad.Gating, hub *orchestrator.Hub, logger logging.Logger) (*malgo.Device, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo init: %w", err)
	}

	captureRateHz := 48000
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(captureRateHz)

	chunkSamples, err := vad.DefaultChunkSamples(cfg.Audio.InternalSampleRateHz)
	if err != nil {
		return nil, fmt.Errorf("vad chunk size: %w", err)
	}
	var frameBuf []float32

	ctx := context.Background()
	onSamples := func(pOutput, pInput []byte, frameCount uint32) {
		if pInput == nil {
			return
		}
		raw := audio.PCM16LEToFloat32(pInput)
		normalized, _, err := audio.NormalizeAudio(raw, 1, captureRateHz, cfg.Audio.InternalSampleRateHz)
		if err != nil {
			logger.Warn("audio normalize failed", "err", err)
			return
		}

		frameBuf = append(frameBuf, normalized...)
		for len(frameBuf) >= chunkSamples {
			chunk := frameBuf[:chunkSamples]
			frameBuf = frameBuf[chunkSamples:]

			events, err := gating.ProcessChunk(chunk)
			if err != nil {
				logger.Warn("vad process failed", "err", err)
				continue
			}
			for _, ev := range events {
				if err := hub.HandleVadEvent(ctx, ev); err != nil {
					logger.Warn("hub handle vad event failed", "err", err)
				}
			}
		}
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		return nil, fmt.Errorf("malgo init device: %w", err)
	}
	if err := device.Start(); err != nil {
		return nil, fmt.Errorf("malgo start: %w", err)
	}
	return device, nil
}

