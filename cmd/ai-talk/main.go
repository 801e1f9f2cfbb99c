// Command ai-talk runs a duplex voice conversation from the terminal.
//
// Usage:
//
//	go run ./cmd/ai-talk [flags]
//
// Environment variables:
//
//	AI_TALK_URL    - Websocket session URL (ws backend)
//	GEMINI_API_KEY - API key (gemini backend)
//
// Controls:
//
//	/t <text>   - Send text message
//	/items      - Dump the conversation log
//	/levels     - Print current audio levels
//	/start /end - Begin/end a turn (push-to-talk mode)
//	q           - Quit
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/quantum-box/ai-talk/pkg/realtime"
	"github.com/quantum-box/ai-talk/pkg/realtime/gemini"
	"github.com/quantum-box/ai-talk/pkg/voice"
	"github.com/quantum-box/ai-talk/pkg/voice/device"
)

func main() {
	_ = godotenv.Load()

	var (
		backend      = flag.String("backend", "ws", "remote backend: ws or gemini")
		url          = flag.String("url", os.Getenv("AI_TALK_URL"), "websocket session URL (ws backend)")
		model        = flag.String("model", "", "live model override (gemini backend)")
		instructions = flag.String("instructions", "", "system prompt override")
		voiceName    = flag.String("voice", "", "output voice override")
		greeting     = flag.String("greeting", "こんにちは！", "user message sent on connect (empty to skip)")
		rate         = flag.Int("rate", 24000, "PCM sample rate in Hz")
		ptt          = flag.Bool("ptt", false, "push-to-talk mode instead of server VAD")
		debug        = flag.Bool("debug", false, "log debug events to stderr")
	)
	flag.Parse()

	cfg := voice.DefaultSessionConfig()
	cfg.Greeting = *greeting
	cfg.Audio.SampleRate = *rate
	cfg.Debug = *debug
	if *instructions != "" {
		cfg.Instructions = *instructions
	}
	if *voiceName != "" {
		cfg.Voice = *voiceName
	}
	if *ptt {
		cfg.TurnDetection = realtime.TurnDetectionManual
	}

	client, err := buildClient(*backend, *url, *model)
	if err != nil {
		log.Fatal(err)
	}

	session := voice.NewSession(cfg, client, &device.Microphone{}, &device.Speaker{})

	go printEvents(session)

	fmt.Println("Connecting...")
	if err := session.Connect(); err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer session.Disconnect()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		_ = session.Disconnect()
		os.Exit(0)
	}()

	if *ptt {
		fmt.Println("Push-to-talk: /start to speak, /end when done.")
	} else {
		fmt.Println("Listening... speak naturally, or type commands ('q' to quit).")
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		switch {
		case strings.EqualFold(input, "q"):
			return
		case strings.HasPrefix(input, "/t "):
			text := strings.TrimPrefix(input, "/t ")
			if err := session.SendUserText(text); err != nil {
				fmt.Printf("[ERROR] send text: %v\n", err)
			}
		case input == "/items":
			dumpItems(session)
		case input == "/levels":
			micRMS, micPeak := session.CaptureLevel()
			spkRMS, spkPeak := session.PlaybackLevel()
			fmt.Printf("mic: rms=%.3f peak=%.3f  speaker: rms=%.3f peak=%.3f\n",
				micRMS, micPeak, spkRMS, spkPeak)
		case input == "/start":
			if err := session.StartTurn(); err != nil {
				fmt.Printf("[ERROR] start turn: %v\n", err)
			}
		case input == "/end":
			if err := session.EndTurn(); err != nil {
				fmt.Printf("[ERROR] end turn: %v\n", err)
			}
		default:
			fmt.Println("[INFO] Commands: /t <text>, /items, /levels, /start, /end, q")
		}
	}
}

func buildClient(backend, url, model string) (realtime.Client, error) {
	switch backend {
	case "ws":
		if url == "" {
			return nil, fmt.Errorf("websocket backend requires -url or AI_TALK_URL")
		}
		return realtime.NewWebsocketClient(url), nil
	case "gemini":
		apiKey := os.Getenv("GEMINI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("gemini backend requires GEMINI_API_KEY")
		}
		var opts []gemini.Option
		if model != "" {
			opts = append(opts, gemini.WithModel(model))
		}
		return gemini.NewClient(apiKey, opts...), nil
	default:
		return nil, fmt.Errorf("unknown backend %q (want ws or gemini)", backend)
	}
}

// completedLines returns the printable transcript lines for items that
// completed since the last call, tracking what was already printed.
func completedLines(items []voice.Item, printed map[string]bool) []string {
	var lines []string
	for _, item := range items {
		if item.Status != voice.StatusCompleted || printed[item.ID] {
			continue
		}
		printed[item.ID] = true
		transcript := strings.TrimSpace(item.Transcript)
		if transcript == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("[%s] %s", item.Role, transcript))
	}
	return lines
}

// printEvents renders transcript growth as it happens. Completed items
// are printed once, in full, prefixed by role.
func printEvents(session *voice.Session) {
	printed := map[string]bool{}
	for event := range session.Events() {
		switch e := event.(type) {
		case voice.ItemsUpdatedEvent:
			for _, line := range completedLines(session.Items(), printed) {
				fmt.Println(line)
			}
		case voice.InterruptedEvent:
			if e.Offset != nil {
				fmt.Printf("[interrupted at sample %d]\n", e.Offset.SampleOffset)
			}
		case voice.ErrorEvent:
			fmt.Fprintf(os.Stderr, "[ERROR] %s: %s\n", e.Type, e.Message)
		}
	}
}

func dumpItems(session *voice.Session) {
	items := session.Items()
	if len(items) == 0 {
		fmt.Println("(conversation is empty)")
		return
	}
	for i, item := range items {
		if item.Audio != nil {
			fmt.Printf("%2d. [%s/%s] %s (audio: %d samples)\n",
				i+1, item.Role, item.Status, strings.TrimSpace(item.Transcript), item.Audio.SampleCount())
			continue
		}
		fmt.Printf("%2d. [%s/%s] %s\n", i+1, item.Role, item.Status, strings.TrimSpace(item.Transcript))
	}
}
