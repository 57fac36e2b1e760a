package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lumivoice/bridge"
	"lumivoice/capture"
	"lumivoice/config"
	"lumivoice/core"
	"lumivoice/orchestrator"
	"lumivoice/persona"
	"lumivoice/playback"
	"lumivoice/vad"

	geminillm "lumivoice/services/gemini/llm"
	geministt "lumivoice/services/gemini/stt"
	geminitts "lumivoice/services/gemini/tts"
	openaillm "lumivoice/services/openai/llm"

	"github.com/joho/godotenv"
)

func main() {
	var settingsPath string
	var continuous bool
	var bridgeAddr string
	flag.StringVar(&settingsPath, "settings", "settings.json", "path to the settings file")
	flag.BoolVar(&continuous, "continuous", false, "start in continuous-conversation mode")
	flag.StringVar(&bridgeAddr, "bridge", "", "override the WebSocket bridge listen address")
	flag.Parse()

	logger := core.GetLogger()

	if err := godotenv.Load(".env.local"); err != nil {
		logger.With(map[string]interface{}{"error": err}).Warn("No .env.local file found or failed to load")
	}

	settings, err := config.LoadSettingsFile(settingsPath)
	if err != nil {
		logger.With(map[string]interface{}{"error": err, "path": settingsPath}).Error("failed to load settings")
		os.Exit(1)
	}
	if continuous {
		settings.Continuous = true
	}
	if bridgeAddr != "" {
		settings.BridgeAddr = bridgeAddr
	}
	apiKeys := config.LoadAPIKeysFromEnv()

	feed := core.NewEventFeed()
	recorder := capture.NewRecorder(feed, logger)
	player := playback.NewPlayer(logger)
	endpointer := vad.NewEndpointer(recorder, player.IsPlaying, vad.Config{
		PollInterval: settings.PollInterval(),
		ThresholdDb:  settings.SilenceThresholdDb,
		Sustain:      settings.SilenceSustain(),
	}, logger)

	transcriber := geministt.NewGeminiSTT(geministt.GeminiSTTConfig{
		APIKey:  apiKeys.Gemini,
		Model:   settings.STTModel,
		Timeout: settings.ProviderTimeout(),
	}, logger)

	responder := buildResponder(settings, apiKeys, logger)

	synthesizer := geminitts.NewGeminiTTS(geminitts.GeminiTTSConfig{
		APIKey:  apiKeys.Gemini,
		Model:   settings.TTSModel,
		Voice:   settings.VoiceName,
		Timeout: settings.ProviderTimeout(),
	}, logger)

	orch := orchestrator.NewTurnOrchestrator(
		recorder, endpointer, transcriber, responder, synthesizer, player,
		feed,
		orchestrator.Config{
			Continuous:  settings.Continuous,
			SettleDelay: settings.SettleDelay(),
			Voice:       settings.VoiceName,
		},
		logger,
	)

	instruction := settings.ContextInstruction
	if instruction == "" {
		instruction = persona.Instruction(persona.Profile{UserName: settings.UserName})
	}
	orch.ConfigureContext(instruction)

	var srv *bridge.Server
	if settings.BridgeAddr != "" {
		srv = bridge.NewServer(settings.BridgeAddr, orch, logger)
		go func() {
			if err := srv.Start(); err != nil {
				logger.With(map[string]interface{}{"error": err}).Error("bridge server stopped")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("Shutting down...")
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(ctx); err != nil {
			logger.With(map[string]interface{}{"error": err}).Warn("bridge shutdown")
		}
		cancel()
	}
	orch.Close()
	player.Stop()
}

// buildResponder selects the reply backend from settings. Gemini is the
// default; the openai backend keeps its own default model when the settings
// still carry the gemini one.
func buildResponder(settings config.Settings, apiKeys config.APIKeys, logger *core.Logger) orchestrator.Responder {
	switch settings.LLMBackend {
	case "openai":
		model := settings.LLMModel
		if model == config.DefaultSettings().LLMModel {
			model = ""
		}
		return openaillm.NewOpenAILLM(openaillm.Config{
			APIKey:             apiKeys.OpenAI,
			Model:              model,
			MaxHistoryMessages: settings.HistoryMaxMessages,
		}, logger)
	default:
		return geminillm.NewGeminiLLM(geminillm.GeminiLLMConfig{
			APIKey:             apiKeys.Gemini,
			Model:              settings.LLMModel,
			Timeout:            settings.ProviderTimeout(),
			MaxHistoryMessages: settings.HistoryMaxMessages,
		}, logger)
	}
}
