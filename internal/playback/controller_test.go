package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeSynth implements tts.Synthesizer.
type fakeSynth struct {
	err   error
	delay time.Duration
	calls int
	mu    sync.Mutex
}

func (f *fakeSynth) Synthesize(_ context.Context, text string) ([]byte, string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, "", f.err
	}
	return []byte(text), "mp3", nil
}

func (f *fakeSynth) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeHandle counts stops.
type fakeHandle struct {
	mu    sync.Mutex
	stops int
}

func (h *fakeHandle) Stop() {
	h.mu.Lock()
	h.stops++
	h.mu.Unlock()
}

// fakeOut records played audio and hands out fakeHandles.
type fakeOut struct {
	mu      sync.Mutex
	played  [][]byte
	handles []*fakeHandle
	err     error
}

func (d *fakeOut) Play(audio []byte, _ string) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	h := &fakeHandle{}
	d.played = append(d.played, audio)
	d.handles = append(d.handles, h)
	return h, nil
}

func (d *fakeOut) playCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.played)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestSpeak_PlaysSynthesizedAudio(t *testing.T) {
	out := &fakeOut{}
	c := NewController(&fakeSynth{}, out, nil, zerolog.Nop())

	c.Speak(context.Background(), "hello there")

	waitFor(t, func() bool { return out.playCount() == 1 })
	if !c.Active() {
		t.Error("expected an active playback handle")
	}
}

func TestSpeak_EmptyTextIsNoOp(t *testing.T) {
	synth := &fakeSynth{}
	c := NewController(synth, &fakeOut{}, nil, zerolog.Nop())

	c.Speak(context.Background(), "")
	c.Speak(context.Background(), "   \n\t")

	time.Sleep(20 * time.Millisecond)
	if synth.callCount() != 0 {
		t.Errorf("expected no synthesis for empty text, got %d calls", synth.callCount())
	}
}

func TestSpeak_SupersedesPriorPlayback(t *testing.T) {
	out := &fakeOut{}
	c := NewController(&fakeSynth{}, out, nil, zerolog.Nop())

	c.Speak(context.Background(), "first")
	waitFor(t, func() bool { return out.playCount() == 1 })

	c.Speak(context.Background(), "second")
	waitFor(t, func() bool { return out.playCount() == 2 })

	out.mu.Lock()
	first := out.handles[0]
	out.mu.Unlock()

	first.mu.Lock()
	stops := first.stops
	first.mu.Unlock()
	if stops == 0 {
		t.Error("expected first playback to be stopped by the second Speak")
	}
}

func TestStop_Idempotent(t *testing.T) {
	out := &fakeOut{}
	c := NewController(&fakeSynth{}, out, nil, zerolog.Nop())

	// Stop with nothing playing must not panic or error.
	c.Stop()
	c.Stop()

	c.Speak(context.Background(), "hello")
	waitFor(t, func() bool { return out.playCount() == 1 })

	c.Stop()
	if c.Active() {
		t.Error("expected no active playback after Stop")
	}
	c.Stop() // second stop is a no-op
}

func TestStop_CancelsInFlightSynthesis(t *testing.T) {
	out := &fakeOut{}
	synth := &fakeSynth{delay: 50 * time.Millisecond}
	c := NewController(synth, out, nil, zerolog.Nop())

	c.Speak(context.Background(), "slow utterance")
	c.Stop() // lands before synthesis completes

	time.Sleep(100 * time.Millisecond)
	if out.playCount() != 0 {
		t.Error("superseded synthesis must not reach the output device")
	}
}

func TestSpeak_SynthesisFailureSwallowed(t *testing.T) {
	out := &fakeOut{}
	c := NewController(&fakeSynth{err: errors.New("api down")}, out, nil, zerolog.Nop())

	c.Speak(context.Background(), "hello")

	time.Sleep(30 * time.Millisecond)
	if out.playCount() != 0 {
		t.Error("expected nothing played on synthesis failure")
	}
	if c.Active() {
		t.Error("expected no active playback on synthesis failure")
	}
}

func TestSpeak_DeviceFailureSwallowed(t *testing.T) {
	out := &fakeOut{err: errors.New("no speaker")}
	c := NewController(&fakeSynth{}, out, nil, zerolog.Nop())

	c.Speak(context.Background(), "hello")

	time.Sleep(30 * time.Millisecond)
	if c.Active() {
		t.Error("expected no active playback on device failure")
	}
}

func TestNopDevice(t *testing.T) {
	c := NewController(&fakeSynth{}, nil, nil, zerolog.Nop())

	// Controller with the no-op device must still run the full path.
	c.Speak(context.Background(), "hello")
	waitFor(t, func() bool { return c.Active() })
	c.Stop()
}
