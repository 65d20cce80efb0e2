// Package mp3 implements the audio.Player interface for MP3 payloads. The
// payload is decoded to PCM with minimp3 and handed to a PCMSink, which in
// the default setup is an external playback command (aplay, paplay, ffplay).
package mp3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/tosone/minimp3"
)

// PCMSink consumes one decoded utterance of raw s16le PCM and blocks until
// it has been played (or ctx is canceled).
type PCMSink interface {
	PlayPCM(ctx context.Context, pcm []byte, sampleRate, channels int) error
}

// PCMSinkFunc adapts a function to the PCMSink interface.
type PCMSinkFunc func(ctx context.Context, pcm []byte, sampleRate, channels int) error

// PlayPCM calls f.
func (f PCMSinkFunc) PlayPCM(ctx context.Context, pcm []byte, sampleRate, channels int) error {
	return f(ctx, pcm, sampleRate, channels)
}

// Player decodes MP3 data and plays it through a PCMSink. It implements
// audio.Player.
type Player struct {
	sink PCMSink
}

// NewPlayer creates a Player backed by the given sink.
func NewPlayer(sink PCMSink) *Player {
	return &Player{sink: sink}
}

// Play decodes data and blocks until the sink finished playing it.
func (p *Player) Play(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return errors.New("mp3: empty payload")
	}
	dec, pcm, err := minimp3.DecodeFull(data)
	if err != nil {
		return fmt.Errorf("mp3: decode: %w", err)
	}
	if len(pcm) == 0 {
		return errors.New("mp3: decoded to zero samples")
	}
	return p.sink.PlayPCM(ctx, pcm, dec.SampleRate, dec.Channels)
}

// CommandSink plays PCM by piping it into an external command. The command
// template is split on whitespace; the placeholders {rate} and {channels}
// are substituted per utterance.
//
// Examples:
//
//	aplay -q -f S16_LE -r {rate} -c {channels}
//	ffplay -nodisp -autoexit -loglevel error -f s16le -ar {rate} -ch_layout mono -i -
type CommandSink struct {
	template string
}

// NewCommandSink creates a CommandSink from a command template. An empty
// template selects a sensible aplay default.
func NewCommandSink(template string) *CommandSink {
	if template == "" {
		template = "aplay -q -f S16_LE -r {rate} -c {channels}"
	}
	return &CommandSink{template: template}
}

// PlayPCM implements PCMSink.
func (s *CommandSink) PlayPCM(ctx context.Context, pcm []byte, sampleRate, channels int) error {
	fields := strings.Fields(s.template)
	if len(fields) == 0 {
		return errors.New("mp3: empty playback command")
	}
	args := make([]string, 0, len(fields)-1)
	for _, f := range fields[1:] {
		f = strings.ReplaceAll(f, "{rate}", strconv.Itoa(sampleRate))
		f = strings.ReplaceAll(f, "{channels}", strconv.Itoa(channels))
		args = append(args, f)
	}

	cmd := exec.CommandContext(ctx, fields[0], args...)
	cmd.Stdin = bytes.NewReader(pcm)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("mp3: playback command: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
