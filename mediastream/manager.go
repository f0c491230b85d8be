// Package mediastream buffers the decoded audio of live call streams and
// periodically hands it to a transcriber.
package mediastream

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"callrelay/mulaw"
	"callrelay/transcribe"
)

var (
	// ErrUnknownStream is returned for media or stop on a stream never started.
	ErrUnknownStream = errors.New("mediastream: unknown stream")

	// ErrDecode is returned when a media payload cannot be decoded.
	ErrDecode = errors.New("mediastream: undecodable payload")
)

// FrameLogPrefix starts the per-chunk trace line so it can be filtered.
const FrameLogPrefix = "media chunk"

// StartInfo describes a stream as announced by the provider.
type StartInfo struct {
	StreamID  string
	CallSID   string
	TenantID  string
	From      string
	To        string
	Direction string
}

// Config tunes buffering.
type Config struct {
	// FlushChunks is the number of buffered chunks that triggers a hand-off.
	FlushChunks int

	// SampleRate of the decoded audio, 8000 for telephony µ-law.
	SampleRate int

	// FlushTimeout bounds a single transcription call.
	FlushTimeout time.Duration
}

// Hooks receive stream outcomes. Either may be nil.
type Hooks struct {
	OnTranscript func(b transcribe.Block, text string)
	OnStop       func(info StartInfo)
}

type buffer struct {
	info      StartInfo
	startedAt time.Time

	mu       sync.Mutex
	chunks   [][]int16
	flushing bool
	stopped  bool
	seq      int
	received int
	dropped  int
}

// Manager owns every active stream buffer.
type Manager struct {
	cfg   Config
	tr    transcribe.Transcriber
	hooks Hooks
	log   *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	streams map[string]*buffer
}

// New creates a manager handing audio to tr.
func New(cfg Config, tr transcribe.Transcriber, hooks Hooks, log *logrus.Entry) *Manager {
	if cfg.FlushChunks <= 0 {
		cfg.FlushChunks = 250
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 8000
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:     cfg,
		tr:      tr,
		hooks:   hooks,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		streams: make(map[string]*buffer),
	}
}

// Start creates the buffer of a new stream. Restarting a known stream id
// keeps the existing buffer.
func (m *Manager) Start(info StartInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.streams[info.StreamID]; ok {
		m.log.Warnf("stream %s started twice", info.StreamID)
		return
	}
	m.streams[info.StreamID] = &buffer{info: info, startedAt: time.Now()}
	m.log.Infof("stream %s started: call=%s tenant=%s direction=%s", info.StreamID, info.CallSID, info.TenantID, info.Direction)
}

// Media decodes one base64 µ-law chunk into the stream's buffer and starts a
// hand-off once enough audio has accumulated and none is in flight.
func (m *Manager) Media(streamID, payload string) error {
	buf := m.lookup(streamID)
	if buf == nil {
		return ErrUnknownStream
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		buf.mu.Lock()
		buf.dropped++
		buf.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	pcm := mulaw.DecodeBuffer(raw)
	m.log.Tracef("%s stream=%s bytes=%d", FrameLogPrefix, streamID, len(raw))

	buf.mu.Lock()
	buf.chunks = append(buf.chunks, pcm)
	buf.received++
	var block *transcribe.Block
	if len(buf.chunks) >= m.cfg.FlushChunks && !buf.flushing {
		block = m.takeLocked(buf)
	}
	buf.mu.Unlock()

	if block != nil {
		m.dispatch(buf, *block)
	}
	return nil
}

// Stop destroys the stream's buffer and reports the stop through
// Hooks.OnStop. Leftover audio is handed off right away, or after the
// in-flight hand-off returns.
func (m *Manager) Stop(streamID string) error {
	m.mu.Lock()
	buf, ok := m.streams[streamID]
	delete(m.streams, streamID)
	m.mu.Unlock()
	if !ok {
		return ErrUnknownStream
	}

	buf.mu.Lock()
	buf.stopped = true
	var block *transcribe.Block
	if len(buf.chunks) > 0 && !buf.flushing {
		block = m.takeLocked(buf)
	}
	received, dropped := buf.received, buf.dropped
	buf.mu.Unlock()

	if block != nil {
		m.dispatch(buf, *block)
	}
	m.log.Infof("stream %s stopped after %s: %d chunks, %d dropped",
		streamID, time.Since(buf.startedAt).Round(time.Millisecond), received, dropped)

	if m.hooks.OnStop != nil {
		m.hooks.OnStop(buf.info)
	}
	return nil
}

// takeLocked sets the flush flag and swaps the buffered chunks out as one
// block; caller must hold buf.mu.
func (m *Manager) takeLocked(buf *buffer) *transcribe.Block {
	n := 0
	for _, c := range buf.chunks {
		n += len(c)
	}
	samples := make([]int16, 0, n)
	for _, c := range buf.chunks {
		samples = append(samples, c...)
	}
	buf.chunks = nil
	buf.flushing = true
	buf.seq++
	return &transcribe.Block{
		StreamID:   buf.info.StreamID,
		CallSID:    buf.info.CallSID,
		TenantID:   buf.info.TenantID,
		Direction:  buf.info.Direction,
		Seq:        buf.seq,
		SampleRate: m.cfg.SampleRate,
		Samples:    samples,
	}
}

func (m *Manager) dispatch(buf *buffer, block transcribe.Block) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.finish(buf)

		ctx, cancel := context.WithTimeout(m.ctx, m.cfg.FlushTimeout)
		defer cancel()

		text, err := m.tr.Transcribe(ctx, block)
		if err != nil {
			m.log.Warnf("stream %s block %d (%s): %v", block.StreamID, block.Seq, block.Duration(), err)
			return
		}
		m.log.Debugf("stream %s block %d (%s) transcribed: %d chars", block.StreamID, block.Seq, block.Duration(), len(text))
		if text != "" && m.hooks.OnTranscript != nil {
			m.hooks.OnTranscript(block, text)
		}
	}()
}

// finish clears the flush flag. A stopped stream gets no more media to
// trigger a hand-off, so whatever it left behind goes out now.
func (m *Manager) finish(buf *buffer) {
	buf.mu.Lock()
	buf.flushing = false
	var next *transcribe.Block
	if buf.stopped && len(buf.chunks) > 0 {
		next = m.takeLocked(buf)
	}
	buf.mu.Unlock()

	if next != nil {
		m.dispatch(buf, *next)
	}
}

func (m *Manager) lookup(streamID string) *buffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[streamID]
}

// Len returns the number of active streams.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// Wait blocks until every in-flight hand-off has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close cancels in-flight hand-offs and waits for them to return.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}
