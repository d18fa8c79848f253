package audio

// sampleRate must be agreed everywhere
const sampleRate = 48000

// channels must be agreed everywhere
const channels = 1

// periodSizeMS is the captured frame size in milliseconds
const periodSizeMS = 20

// encodeBitRate is the bitrate (in bps) to use as encoder output.
const encodeBitRate = 40000

// rawFormatSampleSize is the size in bytes of each raw PCM sample (S16).
const rawFormatSampleSize = 2

// samplesPerPeriod is the number of PCM samples in each period.
const samplesPerPeriod = sampleRate / 1000 * periodSizeMS

type DeviceType string

const (
	DeviceTypeCapture  DeviceType = "capture"
	DeviceTypePlayback DeviceType = "playback"
)

// DeviceID is the platform identifier of an audio device. It is stable for
// the lifetime of the audio context and unique within its device type.
type DeviceID string

type Device struct {
	ID        DeviceID `json:"id"`
	Name      string   `json:"name"`
	IsDefault bool     `json:"is_default"`
}

type RecordInfo struct {
	SampleCount int `json:"sample_count"`
	DurationMs  int `json:"duration_ms"`
	EncodedSize int `json:"encoded_size"`
	PacketCount int `json:"packet_count"`
}

// dataProc is the callback called by devices to exchange raw samples.
type dataProc func(outputSamples, inputSamples []byte, framecount uint32)

type captureDevice interface {
	Start() error
	Stop() error
	Uninit()
}

type playbackDevice interface {
	Start() error
	Uninit()
}

type streamEncoder interface {
	Encode(pcm []int16, frameSize int, out []byte) ([]byte, error)
	SetBitrate(rate int)
}

type streamDecoder interface {
	Decode(data []byte, frameSize int, fec bool, out []int16) ([]int16, error)
}

// audioContext abstracts the audio driver.
type audioContext interface {
	name() string
	free() error
	devices(typ DeviceType) ([]Device, error)
	initPlayback(deviceID DeviceID, cb dataProc) (playbackDevice, error)
	initCapture(deviceID DeviceID, cb dataProc) (captureDevice, error)
	newEncoder(sampleRate, channels int) (streamEncoder, error)
	newDecoder(sampleRate, channels int) (streamDecoder, error)
}

// newAudioContext is set by the driver selected during compilation.
var newAudioContext func() (audioContext, error)
