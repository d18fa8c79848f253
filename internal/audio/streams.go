package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/companyzero/coachmedia/internal/mediaerr"
	"github.com/decred/slog"
	"golang.org/x/sync/errgroup"
)

// errStreamDone is returned when attempting to control a stream that has
// already finished.
var errStreamDone = errors.New("stream is done")

// maxOpusPacketSize is the size of the buffer that receives encoded packets.
const maxOpusPacketSize = 4000

// EncodedCapturedFunc is the signature for the callback function that processes
// captured and opus-encoded packets. The data slice is reused after the
// callback returns.
type EncodedCapturedFunc func(data []byte, timestamp uint32) error

// deviceErr converts an error returned by the audio driver when opening or
// starting a device into a media error.
func deviceErr(err error) error {
	if kind, ok := platformErrKind(err); ok {
		return mediaerr.New(kind, err)
	}
	return mediaerr.Wrap(err, mediaerr.KindDeviceUnavailable)
}

// encodeCtrl is a request to start (onEncoded != nil) or stop (reply != nil)
// encoding captured samples.
type encodeCtrl struct {
	onEncoded EncodedCapturedFunc
	reply     chan RecordInfo
}

// CaptureStream captures data from an input device, tracking its level and
// optionally encoding it.
type CaptureStream struct {
	audioCtx     audioContext
	log          slog.Logger
	deviceID     DeviceID
	sensitivity  float64
	int16Buffers sync.Pool
	encodeChan   chan []int16
	ctrlChan     chan encodeCtrl
	gainChan     chan float64
	level        atomic.Uint64
	started      chan struct{}
	encodeDone   chan struct{}
	captureDone  chan struct{}
	stopChan     chan struct{}
	runErr       error
}

// Started is closed once the capture device is running.
func (cs *CaptureStream) Started() <-chan struct{} {
	return cs.started
}

// CaptureDone is closed once capturing is completed.
func (cs *CaptureStream) CaptureDone() <-chan struct{} {
	return cs.captureDone
}

// Level returns the level of the last captured period, in the range [0, 1].
func (cs *CaptureStream) Level() float64 {
	return math.Float64frombits(cs.level.Load())
}

// Stop stops the capture stream independently of the run context stopping.
func (cs *CaptureStream) Stop() {
	select {
	case cs.stopChan <- struct{}{}:
	case <-cs.captureDone:
	}
}

// Err is the capturing error. It is only set after capturing is done.
func (cs *CaptureStream) Err() error {
	select {
	case <-cs.captureDone:
		return cs.runErr
	default:
		return nil
	}
}

// StartEncoding starts opus-encoding captured periods, sending each packet
// to f. Any previous encoding run is replaced.
func (cs *CaptureStream) StartEncoding(f EncodedCapturedFunc) error {
	select {
	case cs.ctrlChan <- encodeCtrl{onEncoded: f}:
		return nil
	case <-cs.encodeDone:
		return errStreamDone
	}
}

// StopEncoding stops encoding captured periods. It returns the information
// about the encoded run. Every packet of the run has been sent to the
// encoding callback by the time this returns.
func (cs *CaptureStream) StopEncoding() RecordInfo {
	reply := make(chan RecordInfo, 1)
	select {
	case cs.ctrlChan <- encodeCtrl{reply: reply}:
	case <-cs.encodeDone:
		return RecordInfo{}
	}
	select {
	case info := <-reply:
		return info
	case <-cs.encodeDone:
		return RecordInfo{}
	}
}

// SetVolumeGain sets the volume gain for captured samples. The new gain is
// specified in dB.
func (cs *CaptureStream) SetVolumeGain(gainDB float64) {
	select {
	case cs.gainChan <- gainDB:
	case <-cs.encodeDone:
	}
}

// captureLoop runs the capture device and sends every captured period to
// encodeLoop.
func (cs *CaptureStream) captureLoop(ctx context.Context) error {
	sendingDone := make(chan struct{})
	var inFrames atomic.Int64

	cs.log.Debug("Starting capture loop")

	onRecvFrames := func(_, inSamples []byte, framecount uint32) {
		readSize := int(framecount * channels * rawFormatSampleSize)
		if len(inSamples) < readSize {
			cs.log.Warnf("inSamples buffer has len %d when expected %d",
				len(inSamples), readSize)
			readSize = len(inSamples)
		}

		// Double check sending hasn't finished first.
		select {
		case <-sendingDone:
			return
		case <-cs.encodeDone:
			return
		default:
		}

		buf := cs.int16Buffers.Get().([]int16)
		samples := bytesToLES16Slice(inSamples[:readSize], buf[:0])
		inFrames.Add(1)

		select {
		case cs.encodeChan <- samples:
		case <-sendingDone:
		case <-cs.encodeDone:
		}
	}

	device, err := cs.audioCtx.initCapture(cs.deviceID, onRecvFrames)
	if err != nil {
		return deviceErr(err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return deviceErr(err)
	}
	close(cs.started)

	<-ctx.Done()
	close(sendingDone)
	if err := device.Stop(); err != nil {
		cs.log.Debugf("Error stopping capture device: %v", err)
	}
	device.Uninit()

	cs.log.Debugf("Finished capture loop after %d periods", inFrames.Load())
	return nil
}

// encodeLoop meters captured samples and, when requested, opus-encodes them.
func (cs *CaptureStream) encodeLoop(ctx context.Context, initialGainDB float64) error {
	defer close(cs.encodeDone)

	encoder, err := cs.audioCtx.newEncoder(sampleRate, channels)
	if err != nil {
		return fmt.Errorf("newEncoder: %w", err)
	}
	encoder.SetBitrate(encodeBitRate)

	cs.log.Debug("Starting encode loop")

	encodeBuffer := make([]byte, maxOpusPacketSize)
	gain := dbToGain(initialGainDB)

	var onEncoded EncodedCapturedFunc
	var info RecordInfo
	var timestamp uint32

	for {
		select {
		case <-ctx.Done():
			return nil

		case gainDB := <-cs.gainChan:
			cs.log.Debugf("Changing capture volume gain to %.2f dB", gainDB)
			gain = dbToGain(gainDB)

		case c := <-cs.ctrlChan:
			if c.reply != nil {
				if onEncoded != nil {
					cs.log.Debugf("Finished encoding: %d samples, "+
						"%d opus packets (%d out size)",
						info.SampleCount, info.PacketCount,
						info.EncodedSize)
				}
				c.reply <- info
				onEncoded = nil
				continue
			}
			onEncoded = c.onEncoded
			info = RecordInfo{}
			timestamp = 0

		case samples := <-cs.encodeChan:
			applyGain(samples, gain)
			cs.level.Store(math.Float64bits(levelOf(samples, cs.sensitivity)))

			if onEncoded != nil {
				if len(samples) != samplesPerPeriod {
					cs.log.Warnf("Wrong len of samples to encode "+
						"(want %d, got %d)", samplesPerPeriod,
						len(samples))
				}
				encoded, err := encoder.Encode(samples, len(samples), encodeBuffer)
				if err != nil {
					return err
				}
				if err := onEncoded(encoded, timestamp); err != nil {
					return err
				}

				timestamp += periodSizeMS
				info.PacketCount++
				info.SampleCount += len(samples)
				info.EncodedSize += len(encoded)
				info.DurationMs = info.PacketCount * periodSizeMS
			}

			cs.int16Buffers.Put(samples[:0])
		}
	}
}

func (cs *CaptureStream) run(ctx context.Context, initialGainDB float64) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return cs.encodeLoop(gctx, initialGainDB) })
	g.Go(func() error { return cs.captureLoop(gctx) })
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-cs.stopChan:
		}
		cancel()
		return nil
	})
	cs.runErr = g.Wait()
	cs.level.Store(0)
	close(cs.captureDone)
}

// streamCapture runs a new capturing stream.
func streamCapture(ctx context.Context, audioCtx audioContext, deviceID DeviceID,
	gainDB, sensitivity float64, log slog.Logger) *CaptureStream {

	if sensitivity <= 0 {
		sensitivity = DefaultLevelSensitivity
	}
	cs := &CaptureStream{
		encodeChan:  make(chan []int16),
		ctrlChan:    make(chan encodeCtrl),
		gainChan:    make(chan float64, 1),
		started:     make(chan struct{}),
		encodeDone:  make(chan struct{}),
		captureDone: make(chan struct{}),
		stopChan:    make(chan struct{}, 1),
		log:         log,
		audioCtx:    audioCtx,
		deviceID:    deviceID,
		sensitivity: sensitivity,
		int16Buffers: sync.Pool{New: func() interface{} {
			return make([]int16, 0, samplesPerPeriod)
		}},
	}

	go cs.run(ctx, gainDB)
	return cs
}

// decodedPacket is a decoded period ready for the playback device.
type decodedPacket struct {
	data []byte
	ts   uint32
	end  bool
}

// PlaybackStream plays back a sequence of opus packets.
type PlaybackStream struct {
	audioCtx     audioContext
	log          slog.Logger
	deviceID     DeviceID
	packets      [][]byte
	startIdx     int
	bytesBuffers sync.Pool
	playbackChan chan decodedPacket
	firstDecoded chan struct{}
	gain         atomic.Uint64
	muted        atomic.Bool
	positionMs   atomic.Int64
	ended        atomic.Bool
	playbackDone chan struct{}
	stopChan     chan struct{}
	runErr       error
}

// PlaybackDone is closed when playback of this stream is finished or canceled.
func (ps *PlaybackStream) PlaybackDone() <-chan struct{} {
	return ps.playbackDone
}

// Ended returns true if the stream played through its last packet.
func (ps *PlaybackStream) Ended() bool {
	return ps.ended.Load()
}

// Position returns the playback position of the stream, measured from the
// start of the packet sequence.
func (ps *PlaybackStream) Position() time.Duration {
	return time.Duration(ps.positionMs.Load()) * time.Millisecond
}

// Stop stops the playback stream.
func (ps *PlaybackStream) Stop() {
	select {
	case ps.stopChan <- struct{}{}:
	case <-ps.playbackDone:
	}
}

// Err returns the playback error. It is only set after playback is done.
func (ps *PlaybackStream) Err() error {
	select {
	case <-ps.playbackDone:
		return ps.runErr
	default:
		return nil
	}
}

// SetVolumeGain modifies the volume gain of this stream. Gain is expressed
// in dB units.
func (ps *PlaybackStream) SetVolumeGain(gainDB float64) {
	ps.gain.Store(math.Float64bits(dbToGain(gainDB)))
}

// SetMuted silences (or un-silences) the output without stopping playback.
func (ps *PlaybackStream) SetMuted(muted bool) {
	ps.muted.Store(muted)
}

// decodeLoop opus-decodes the stream packets and sends them to the playback
// loop.
func (ps *PlaybackStream) decodeLoop(ctx context.Context) error {
	markDecoded := sync.OnceFunc(func() { close(ps.firstDecoded) })
	defer markDecoded()

	decoder, err := ps.audioCtx.newDecoder(sampleRate, channels)
	if err != nil {
		return fmt.Errorf("newDecoder: %w", err)
	}

	// Buffer that receives the results of a decoder.Decode() call.
	decodeBuffer := make([]int16, samplesPerPeriod*channels*2)

	var inSize, outSize int
	for i := ps.startIdx; i < len(ps.packets); i++ {
		decoded, err := decoder.Decode(ps.packets[i], samplesPerPeriod, false, decodeBuffer)
		if err != nil {
			return fmt.Errorf("unable to decode packet %d: %w", i, err)
		}
		applyGain(decoded, math.Float64frombits(ps.gain.Load()))

		samples := ps.bytesBuffers.Get().([]byte)
		samples = leS16SliceToBytes(decoded, samples[:0])
		inSize += len(ps.packets[i])
		outSize += len(samples)

		select {
		case ps.playbackChan <- decodedPacket{data: samples, ts: uint32(i * periodSizeMS)}:
		case <-ctx.Done():
			return nil
		}
		markDecoded()
	}

	ps.log.Debugf("Playback decoding ended after decoding %d packets "+
		"(%d in size, %d out size)", len(ps.packets)-ps.startIdx,
		inSize, outSize)

	select {
	case ps.playbackChan <- decodedPacket{end: true}:
	case <-ctx.Done():
	}
	return nil
}

// playbackLoop runs the playback device, feeding it the decoded packets.
func (ps *PlaybackStream) playbackLoop(ctx context.Context) error {
	// Wait until the first packet has been decoded to init playback.
	select {
	case <-ps.firstDecoded:
	case <-ctx.Done():
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}

	playbackDone := make(chan struct{})
	markDone := sync.OnceFunc(func() { close(playbackDone) })
	var cbCount, stalls int

	onSendFrames := func(outSamples, _ []byte, framecount uint32) {
		bytesToWrite := int(framecount * channels * rawFormatSampleSize)
		if len(outSamples) < bytesToWrite {
			ps.log.Warnf("Buffer size %d is smaller than write size %d",
				len(outSamples), bytesToWrite)
			bytesToWrite = len(outSamples)
		}
		out := outSamples[:bytesToWrite]
		cbCount++

		var p decodedPacket
		select {
		case <-playbackDone:
			clear(out)
			return
		case p = <-ps.playbackChan:
		default:
			// Decoder fell behind. Play silence.
			stalls++
			clear(out)
			return
		}

		if p.end {
			clear(out)
			markDone()
			return
		}

		n := copy(out, p.data)
		clear(out[n:])
		if ps.muted.Load() {
			clear(out)
		}
		ps.positionMs.Store(int64(p.ts) + periodSizeMS)
		ps.bytesBuffers.Put(p.data[:0])
	}

	device, err := ps.audioCtx.initPlayback(ps.deviceID, onSendFrames)
	if err != nil {
		return deviceErr(err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return deviceErr(err)
	}

	select {
	case <-ctx.Done():
	case <-playbackDone:
		ps.ended.Store(true)
	}
	device.Uninit()

	ps.log.Debugf("Finished playback loop with %d callbacks (%d stalls)",
		cbCount, stalls)
	return nil
}

func (ps *PlaybackStream) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ps.decodeLoop(gctx) })
	g.Go(func() error {
		err := ps.playbackLoop(gctx)
		cancel()
		return err
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-ps.stopChan:
		}
		cancel()
		return nil
	})
	ps.runErr = g.Wait()
	close(ps.playbackDone)
}

// playbackOpusFrames creates and runs a playback stream through a set of opus
// packets (likely a recording), starting at packet startIdx.
func playbackOpusFrames(ctx context.Context, audioCtx audioContext,
	deviceID DeviceID, gainDB float64, opusFrames [][]byte, startIdx int,
	log slog.Logger) *PlaybackStream {

	if log == nil {
		log = slog.Disabled
	}
	startIdx = max(0, min(startIdx, len(opusFrames)))
	ps := &PlaybackStream{
		log:      log,
		audioCtx: audioCtx,
		deviceID: deviceID,
		packets:  opusFrames,
		startIdx: startIdx,
		bytesBuffers: sync.Pool{New: func() interface{} {
			return make([]byte, 0, samplesPerPeriod*rawFormatSampleSize)
		}},
		playbackChan: make(chan decodedPacket, 1000/periodSizeMS), // Buffer up to 1 second of decoded frames.
		firstDecoded: make(chan struct{}),
		playbackDone: make(chan struct{}),
		stopChan:     make(chan struct{}, 1),
	}
	ps.SetVolumeGain(gainDB)
	ps.positionMs.Store(int64(startIdx * periodSizeMS))

	go ps.run(ctx)
	return ps
}
