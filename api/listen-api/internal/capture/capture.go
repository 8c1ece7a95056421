// Copyright (c) 2025 Auricle Labs
//
// Licensed under GPL-2.0 with Auricle Additional Terms.
// See LICENSE.md for commercial usage.
package internal_capture

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"syscall"

	internal_audio "github.com/auricleai/api/listen-api/internal/audio"
	internal_broadcast "github.com/auricleai/api/listen-api/internal/broadcast"
	internal_type "github.com/auricleai/api/listen-api/internal/type"
	"github.com/auricleai/pkg/commons"
	"github.com/auricleai/pkg/utils"
)

// Sink receives base64-encoded mono PCM chunks ready for transcription.
type Sink func(source internal_type.AudioSource, data string)

// Pipeline ingests raw audio from capture processes and client pushes, frames
// it into fixed 100ms chunks, downmixes to mono, and hands base64 PCM to the
// sink. Waveform previews are published on the emitter as a side channel.
type Pipeline struct {
	logger  commons.Logger
	emitter *internal_broadcast.Emitter
	sink    Sink

	// systemCommand is the shell command that writes raw stereo PCM to
	// stdout (e.g. a SystemAudioDump-style helper on macOS).
	systemCommand string

	mu       sync.Mutex
	system   *captureProc
	micFrame *internal_audio.Framer
}

type captureProc struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPipeline(logger commons.Logger, emitter *internal_broadcast.Emitter, systemCommand string, sink Sink) *Pipeline {
	return &Pipeline{
		logger:        logger,
		emitter:       emitter,
		sink:          sink,
		systemCommand: systemCommand,
		micFrame:      internal_audio.NewFramer(internal_audio.ChunkSize),
	}
}

// StartCapture begins ingesting audio for source. For the system source this
// spawns the configured capture process; any stale process from a previous
// run is killed first so only one capture owns the device. The microphone
// source needs no process — frames arrive via PushFrame from the client.
func (p *Pipeline) StartCapture(ctx context.Context, source internal_type.AudioSource) error {
	switch source {
	case internal_type.SourceMicrophone:
		p.mu.Lock()
		p.micFrame.Reset()
		p.mu.Unlock()
		return nil
	case internal_type.SourceSystem:
		return p.startSystemCapture(ctx)
	default:
		return fmt.Errorf("unknown audio source: %s", source)
	}
}

// StopCapture stops ingesting audio for source. Stopping an idle source is a
// no-op.
func (p *Pipeline) StopCapture(source internal_type.AudioSource) {
	p.mu.Lock()
	proc := p.system
	if source == internal_type.SourceSystem {
		p.system = nil
	}
	if source == internal_type.SourceMicrophone {
		p.micFrame.Reset()
	}
	p.mu.Unlock()

	if source == internal_type.SourceSystem && proc != nil {
		proc.cancel()
		<-proc.done
		p.logger.Debugf("system audio capture stopped")
	}
}

// StopAll stops every active capture.
func (p *Pipeline) StopAll() {
	p.StopCapture(internal_type.SourceMicrophone)
	p.StopCapture(internal_type.SourceSystem)
}

// PushFrame ingests one base64 PCM frame pushed by a client recorder (the
// microphone path). Frames are re-chunked so the provider always sees 100ms
// buffers regardless of the client's frame size.
func (p *Pipeline) PushFrame(source internal_type.AudioSource, data string) error {
	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return internal_type.NewListenError(internal_type.ErrorUnknown, "malformed audio frame")
	}

	p.mu.Lock()
	chunks := p.micFrame.Push(pcm)
	p.mu.Unlock()

	for _, chunk := range chunks {
		p.dispatch(source, chunk, false)
	}
	return nil
}

func (p *Pipeline) startSystemCapture(ctx context.Context) error {
	if p.systemCommand == "" {
		return internal_type.NewListenError(
			internal_type.ErrorPlatform,
			fmt.Sprintf("system audio capture is not configured for %s", runtime.GOOS))
	}

	p.mu.Lock()
	stale := p.system
	p.system = nil
	p.mu.Unlock()
	if stale != nil {
		stale.cancel()
		<-stale.done
		p.logger.Warnf("killed stale system audio capture process")
	}

	procCtx, cancel := context.WithCancel(context.Background())
	parts := strings.Fields(p.systemCommand)
	cmd := exec.CommandContext(procCtx, parts[0], parts[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return internal_type.NewListenError(internal_type.ErrorPlatform, "failed to attach to capture process")
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return internal_type.NewListenError(
			internal_type.ErrorAudioPermission,
			fmt.Sprintf("failed to start system audio capture: %v", err))
	}

	proc := &captureProc{cmd: cmd, cancel: cancel, done: make(chan struct{})}
	p.mu.Lock()
	p.system = proc
	p.mu.Unlock()

	utils.Go(ctx, p.logger, func() {
		defer close(proc.done)
		p.readSystemAudio(stdout)
		_ = cmd.Wait()
		if code := exitCode(cmd); code != 0 && code != -1 {
			p.logger.Errorf("system audio capture exited with code %d", code)
		}
	})

	p.logger.Infof("system audio capture started: %s", parts[0])
	return nil
}

// readSystemAudio frames the capture process stdout into stereo chunks,
// downmixes each to mono, and dispatches.
func (p *Pipeline) readSystemAudio(r io.Reader) {
	framer := internal_audio.NewFramer(internal_audio.ChunkSize)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, chunk := range framer.Push(buf[:n]) {
				p.dispatch(internal_type.SourceSystem, chunk, true)
			}
		}
		if err != nil {
			return
		}
	}
}

func (p *Pipeline) dispatch(source internal_type.AudioSource, chunk []byte, stereo bool) {
	if stereo {
		chunk = internal_audio.DownmixStereo(chunk)
	}
	encoded := base64.StdEncoding.EncodeToString(chunk)
	p.sink(source, encoded)
	p.emitter.Publish(internal_broadcast.WaveformEvent{
		Source: source,
		Data:   encoded,
	})
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	if status, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}
