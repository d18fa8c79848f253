package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"time"

	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const (
	oggSig         = "OggS"
	opusIdSig      = "OpusHead"
	opusCommentSig = "OpusTags"
	opusVendor     = "coachmedia"

	oggHeaderTypeContinued = 0x1
	oggHeaderTypeFirst     = 0x2
	oggHeaderTypeLast      = 0x4

	// maxOggPacketSize is the largest packet that fits in a single page.
	maxOggPacketSize = 255 * 255
)

// ErrEmptyClip is returned when attempting to finalize or play a clip
// without any encoded audio.
var ErrEmptyClip = errors.New("clip has no audio data")

// Clip is a finished recording, encoded as an opus stream inside an ogg
// container. Clips are immutable once produced.
type Clip struct {
	data []byte
	info RecordInfo
}

// Bytes returns the ogg/opus file contents of the clip. The returned slice
// must not be modified.
func (c *Clip) Bytes() []byte { return c.data }

// Info returns information about the recording.
func (c *Clip) Info() RecordInfo { return c.info }

// Duration of the clip.
func (c *Clip) Duration() time.Duration {
	return time.Duration(c.info.DurationMs) * time.Millisecond
}

// WriteFile exports the clip as an .ogg file.
func (c *Clip) WriteFile(path string) error {
	return os.WriteFile(path, c.data, 0o600)
}

// newClip encodes a list of opus packets as an ogg/opus clip.
func newClip(packets [][]byte, info RecordInfo) (*Clip, error) {
	if len(packets) == 0 {
		return nil, ErrEmptyClip
	}

	buf := bytes.NewBuffer(make([]byte, 0, info.EncodedSize+len(packets)*28+64))
	w, err := newClipWriter(buf)
	if err != nil {
		return nil, err
	}
	for i, p := range packets {
		isLast := i == len(packets)-1
		if err := w.writePacket(p, samplesPerPeriod, isLast); err != nil {
			return nil, err
		}
	}
	return &Clip{data: buf.Bytes(), info: info}, nil
}

// clipWriter writes opus packets into ogg pages, one packet per page.
type clipWriter struct {
	w       io.Writer
	serial  uint32
	seq     uint32
	granule uint64
	crc     *[256]uint32
}

func newClipWriter(out io.Writer) (*clipWriter, error) {
	cw := &clipWriter{
		w:      out,
		serial: rand.Uint32(),
		crc:    oggChecksumTable(),
	}
	if err := cw.writeHeaders(); err != nil {
		return nil, err
	}
	return cw, nil
}

func (cw *clipWriter) writeHeaders() error {
	id := make([]byte, 19)
	copy(id, opusIdSig)
	id[8] = 1 // version
	id[9] = channels
	binary.LittleEndian.PutUint16(id[10:], 0)          // pre-skip
	binary.LittleEndian.PutUint32(id[12:], sampleRate) // input sample rate
	binary.LittleEndian.PutUint16(id[16:], 0)          // output gain
	id[18] = 0                                         // channel mapping family
	if err := cw.writePage(id, 0, oggHeaderTypeFirst); err != nil {
		return err
	}

	tags := make([]byte, 8+4+len(opusVendor)+4)
	copy(tags, opusCommentSig)
	binary.LittleEndian.PutUint32(tags[8:], uint32(len(opusVendor)))
	copy(tags[12:], opusVendor)
	binary.LittleEndian.PutUint32(tags[12+len(opusVendor):], 0) // no user comments
	return cw.writePage(tags, 0, 0)
}

func (cw *clipWriter) writePacket(p []byte, pcmSamples uint64, isLast bool) error {
	if len(p) > maxOggPacketSize {
		return fmt.Errorf("opus packet too large (%d bytes)", len(p))
	}
	cw.granule += pcmSamples
	var headerType byte
	if isLast {
		headerType = oggHeaderTypeLast
	}
	return cw.writePage(p, cw.granule, headerType)
}

// writePage writes a single ogg page holding payload.
func (cw *clipWriter) writePage(payload []byte, granule uint64, headerType byte) error {
	// Lacing values. A payload that is a multiple of 255 bytes (including
	// the empty payload) is terminated by a zero lacing value.
	nsegs := len(payload)/255 + 1
	headerSize := 27 + nsegs
	buf := make([]byte, headerSize+len(payload))

	copy(buf, oggSig)
	buf[4] = 0 // version
	buf[5] = headerType
	binary.LittleEndian.PutUint64(buf[6:], granule)
	binary.LittleEndian.PutUint32(buf[14:], cw.serial)
	binary.LittleEndian.PutUint32(buf[18:], cw.seq)
	buf[26] = byte(nsegs)
	for i := 0; i < nsegs-1; i++ {
		buf[27+i] = 255
	}
	buf[27+nsegs-1] = byte(len(payload) % 255)
	copy(buf[headerSize:], payload)

	// Checksum is computed with the checksum field zeroed.
	var checksum uint32
	for _, b := range buf {
		checksum = (checksum << 8) ^ cw.crc[byte(checksum>>24)^b]
	}
	binary.LittleEndian.PutUint32(buf[22:], checksum)

	if _, err := cw.w.Write(buf); err != nil {
		return err
	}
	cw.seq++
	return nil
}

// oggChecksumTable builds the CRC table used by ogg pages (polynomial
// 0x04c11db7, no reflection).
func oggChecksumTable() *[256]uint32 {
	var table [256]uint32
	const poly = 0x04c11db7

	for i := range table {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if r&0x80000000 != 0 {
				r = (r << 1) ^ poly
			} else {
				r <<= 1
			}
		}
		table[i] = r
	}
	return &table
}

// clipPackets parses an ogg/opus file and returns its opus packets. Each
// page is expected to hold at most one packet, which is how clips are
// written.
func clipPackets(r io.Reader) ([][]byte, error) {
	reader, header, err := oggreader.NewWith(r)
	if err != nil {
		return nil, fmt.Errorf("unable to read ogg header: %w", err)
	}
	if header.Channels != channels {
		return nil, fmt.Errorf("unsupported channel count %d", header.Channels)
	}

	var packets [][]byte
	for {
		payload, _, err := reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(payload) == 0 || bytes.HasPrefix(payload, []byte(opusCommentSig)) {
			continue
		}
		packets = append(packets, payload)
	}
	if len(packets) == 0 {
		return nil, ErrEmptyClip
	}
	return packets, nil
}
