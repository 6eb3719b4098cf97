package main

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/spf13/cobra"

	"github.com/tgeczy/softvoice-wrapper/internal/audio"
)

// newPlayCmd plays back a previously captured WAV file.
func newPlayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "play <file>",
		Short: "Play a WAV file through the default audio device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			samples, f, err := audio.DecodeWAV(data)
			if err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}

			return playSamples(samples, f.SampleRate, f.Channels)
		},
	}
}

// playSamples renders float32 PCM through the default audio device and
// blocks until playback finishes.
func playSamples(samples []float32, sampleRate, channels int) error {
	if len(samples) == 0 {
		return errors.New("nothing to play")
	}
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("invalid playback format %d Hz / %d ch", sampleRate, channels)
	}

	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(float64(s) * 32767))
		pcm[2*i] = byte(uint16(v))
		pcm[2*i+1] = byte(uint16(v) >> 8)
	}

	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	}

	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("open audio device: %w", err)
	}
	<-ready

	p := ctx.NewPlayer(bytes.NewReader(pcm))
	p.Play()
	for p.IsPlaying() {
		time.Sleep(10 * time.Millisecond)
	}

	return p.Close()
}
