package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tgeczy/softvoice-wrapper/internal/audio"
	"github.com/tgeczy/softvoice-wrapper/internal/bridge"
	"github.com/tgeczy/softvoice-wrapper/internal/config"
	"github.com/tgeczy/softvoice-wrapper/internal/stream"
	"github.com/tgeczy/softvoice-wrapper/internal/waveout"
)

// voiceIDs maps the engine's language voices to their numeric ids.
var voiceIDs = map[string]int{
	"english": 1,
	"spanish": 2,
}

func newSayCmd() *cobra.Command {
	var text string
	var voice string
	var rate int
	var pitch int
	var inflection int
	var personality int
	var speakingMode int
	var useMock bool
	var play bool
	var sink string
	var output string
	var sampleRate int
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "say [text]",
		Short: "Synthesize text to WAV or the speakers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if len(args) == 1 && text == "" {
				text = args[0]
			}
			inputText, err := readSayText(text, os.Stdin)
			if err != nil {
				return err
			}

			if play {
				sink = config.SinkPlay
			}
			if sink == "" {
				sink = cfg.Say.Sink
			}
			selectedSink, err := config.NormalizeSink(sink)
			if err != nil {
				return err
			}
			if output == "" {
				output = cfg.Say.Output
			}
			if sampleRate == 0 {
				sampleRate = cfg.Say.SampleRate
			}

			selectedVoice := cfg.Engine.Voice
			if voice != "" {
				selectedVoice = voice
			}
			voiceID, err := resolveVoice(selectedVoice)
			if err != nil {
				return err
			}

			newEngine, unload, err := engineFactory(cfg, useMock)
			if err != nil {
				return err
			}

			s, err := bridge.Initialize(bridge.Config{
				NewEngine: newEngine,
				Voice:     voiceID,
				WakeQuirk: cfg.Engine.WakeQuirk,
				Unload:    unload,
			})
			if err != nil {
				return fmt.Errorf("engine init: %w", err)
			}
			defer s.Release()

			s.SetTrimSilence(cfg.Audio.TrimSilence)
			s.SetPauseFactor(cfg.Audio.PauseFactor)
			if cfg.Audio.MaxLeadMs != config.DefaultConfig().Audio.MaxLeadMs {
				s.SetMaxLeadMs(cfg.Audio.MaxLeadMs)
			}

			flags := cmd.Flags()
			if flags.Changed("rate") {
				s.SetRate(rate)
			}
			if flags.Changed("pitch") {
				s.SetPitch(pitch)
			}
			if flags.Changed("inflection") {
				s.SetF0Range(inflection)
			}
			if flags.Changed("personality") {
				s.SetPersonality(personality)
			}
			if flags.Changed("speaking-mode") {
				s.SetSpeakingMode(speakingMode)
			}

			if err := s.Speak(inputText); err != nil {
				return fmt.Errorf("speak: %w", err)
			}

			pcm, errCode, err := pullAudio(s, wait)
			if err != nil {
				return err
			}
			if errCode != 0 {
				return fmt.Errorf("synthesis failed with engine error %d", errCode)
			}
			if len(pcm) == 0 {
				return errors.New("engine produced no audio")
			}

			f, ok := s.Format()
			if !ok {
				return errors.New("engine never reported an audio format")
			}

			return writeOutput(pcm, f, selectedSink, output, sampleRate)
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "Text to speak (reads stdin when omitted)")
	cmd.Flags().StringVar(&voice, "voice", "", "Voice: english, spanish, or a numeric id")
	cmd.Flags().IntVar(&rate, "rate", 260, "Speaking rate")
	cmd.Flags().IntVar(&pitch, "pitch", 89, "Baseline pitch")
	cmd.Flags().IntVar(&inflection, "inflection", 125, "Pitch range (inflection)")
	cmd.Flags().IntVar(&personality, "personality", 0, "Personality preset (0 = base voice)")
	cmd.Flags().IntVar(&speakingMode, "speaking-mode", 0, "Speaking mode")
	cmd.Flags().BoolVar(&useMock, "mock", false, "Use the built-in mock engine instead of the native library")
	cmd.Flags().BoolVar(&play, "play", false, "Play through the speakers (shorthand for --sink play)")
	cmd.Flags().StringVar(&sink, "sink", "", "Where to send audio: file or play")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output WAV path when the sink is file")
	cmd.Flags().IntVar(&sampleRate, "sample-rate", 0, "Resample output to this rate (0 keeps the engine rate)")
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Minute, "Maximum time to wait for synthesis")

	return cmd
}

// readSayText returns the text to synthesize, falling back to stdin when no
// --text flag or positional argument was given.
func readSayText(text string, stdin io.Reader) (string, error) {
	if text != "" {
		return text, nil
	}

	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return "", errors.New("no text given; pass an argument, --text, or pipe to stdin")
	}

	return trimmed, nil
}

// resolveVoice turns a voice name or numeric string into the engine's voice
// id. Empty input selects the first voice.
func resolveVoice(v string) (int, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return 1, nil
	}

	if id, ok := voiceIDs[v]; ok {
		return id, nil
	}

	id, err := strconv.Atoi(v)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("unknown voice %q (expected english, spanish, or a positive id)", v)
	}

	return id, nil
}

// pullAudio drains the session until the utterance's done marker arrives.
// It returns the raw PCM plus the last error-marker code, zero when the
// utterance completed cleanly.
func pullAudio(s *bridge.Session, timeout time.Duration) ([]byte, int, error) {
	var out []byte
	buf := make([]byte, 64*1024)
	deadline := time.Now().Add(timeout)
	errCode := 0

	for {
		kind, val, n := s.Read(buf)
		switch kind {
		case stream.KindAudio:
			out = append(out, buf[:n]...)
		case stream.KindError:
			errCode = val
		case stream.KindDone:
			return out, errCode, nil
		case stream.KindNone:
			if time.Now().After(deadline) {
				return out, errCode, errors.New("timed out waiting for synthesis")
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
}

// writeOutput converts the raw engine PCM into the requested sink format.
func writeOutput(pcm []byte, f waveout.Format, sink, output string, sampleRate int) error {
	if f.BitsPerSample == 8 {
		pcm = audio.Convert8to16(pcm)
		f.BitsPerSample = 16
	}

	samples, err := audio.Samples(pcm, f)
	if err != nil {
		return err
	}

	outRate := f.SampleRate
	if sampleRate > 0 && sampleRate != outRate {
		samples = audio.ResampleLinear(samples, outRate, sampleRate)
		outRate = sampleRate
	}

	switch sink {
	case config.SinkPlay:
		return playSamples(samples, outRate, f.Channels)
	default:
		data, err := audio.EncodeWAV(samples, outRate, f.Channels)
		if err != nil {
			return err
		}
		if err := os.WriteFile(output, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", output, err)
		}
		return nil
	}
}
