package capture

import (
	"encoding/binary"
	"io"

	"github.com/teranos/recwake/errors"
)

// WAVHeaderSize is the canonical RIFF/WAVE header length for PCM.
const WAVHeaderSize = 44

// WAVHeader builds a PCM header for dataLen bytes of sample data.
func WAVHeader(f Format, dataLen uint32) []byte {
	h := make([]byte, WAVHeaderSize)
	copy(h[0:], "RIFF")
	binary.LittleEndian.PutUint32(h[4:], 36+dataLen)
	copy(h[8:], "WAVE")
	copy(h[12:], "fmt ")
	binary.LittleEndian.PutUint32(h[16:], 16)
	binary.LittleEndian.PutUint16(h[20:], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:], uint16(f.Channels))
	binary.LittleEndian.PutUint32(h[24:], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(h[28:], uint32(f.BytesPerSecond()))
	binary.LittleEndian.PutUint16(h[32:], uint16(f.BlockAlign()))
	binary.LittleEndian.PutUint16(h[34:], uint16(f.BitsPerSample))
	copy(h[36:], "data")
	binary.LittleEndian.PutUint32(h[40:], dataLen)
	return h
}

// PatchHeader rewrites the size fields of a header already at offset 0.
func PatchHeader(w io.WriterAt, dataLen uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], 36+dataLen)
	if _, err := w.WriteAt(b[:], 4); err != nil {
		return errors.Wrap(err, "failed to patch RIFF size")
	}
	binary.LittleEndian.PutUint32(b[:], dataLen)
	if _, err := w.WriteAt(b[:], 40); err != nil {
		return errors.Wrap(err, "failed to patch data size")
	}
	return nil
}

// ReadHeader parses a canonical PCM header.
func ReadHeader(r io.Reader) (Format, uint32, error) {
	h := make([]byte, WAVHeaderSize)
	if _, err := io.ReadFull(r, h); err != nil {
		return Format{}, 0, errors.Wrap(err, "failed to read WAV header")
	}
	if string(h[0:4]) != "RIFF" || string(h[8:12]) != "WAVE" || string(h[36:40]) != "data" {
		return Format{}, 0, errors.New("not a canonical PCM WAV file")
	}
	f := Format{
		Channels:      int(binary.LittleEndian.Uint16(h[22:])),
		SampleRate:    int(binary.LittleEndian.Uint32(h[24:])),
		BitsPerSample: int(binary.LittleEndian.Uint16(h[34:])),
	}
	return f, binary.LittleEndian.Uint32(h[40:]), nil
}
