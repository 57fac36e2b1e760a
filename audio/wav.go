package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// WAVHeaderSize is the canonical RIFF/WAVE header length: 12 bytes of RIFF
// framing, a 24-byte fmt sub-chunk and an 8-byte data sub-chunk preamble.
const WAVHeaderSize = 44

// WAVFormat describes a WAV file's sample layout.
type WAVFormat struct {
	SampleRate    int
	BitsPerSample int
	Channels      int
}

// PCMBytesToWavBytes wraps raw little-endian PCM into a WAV file with the
// standard 44-byte header. Supports 8 or 16 bits per sample, mono or stereo.
func PCMBytesToWavBytes(pcm []byte, format WAVFormat) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, errors.New("PCM data is empty")
	}
	if format.Channels <= 0 || format.Channels > 2 {
		return nil, errors.New("only mono (1) or stereo (2) channels supported")
	}
	if format.SampleRate <= 0 {
		return nil, errors.New("sample rate must be positive")
	}
	if format.BitsPerSample != 8 && format.BitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported bits per sample: %d", format.BitsPerSample)
	}
	bytesPerSample := format.BitsPerSample / 8
	if len(pcm)%(bytesPerSample*format.Channels) != 0 {
		return nil, errors.New("PCM data length doesn't match sample layout")
	}

	const (
		audioFormatPCM = 1
		subchunk1Size  = 16
	)

	blockAlign := format.Channels * bytesPerSample
	byteRate := format.SampleRate * blockAlign
	dataSize := len(pcm)
	fileSize := WAVHeaderSize - 8 + dataSize

	buf := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize+dataSize))

	// RIFF header
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(fileSize))
	buf.WriteString("WAVE")

	// fmt sub-chunk
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(subchunk1Size))
	binary.Write(buf, binary.LittleEndian, uint16(audioFormatPCM))
	binary.Write(buf, binary.LittleEndian, uint16(format.Channels))
	binary.Write(buf, binary.LittleEndian, uint32(format.SampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(format.BitsPerSample))

	// data sub-chunk
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataSize))

	buf.Write(pcm)
	return buf.Bytes(), nil
}

// StripWAVHeaderIfPresent returns raw PCM bytes if input starts with a RIFF/WAVE header.
// If the input is not a WAV file, it returns the input unchanged.
// Only extracts the "data" chunk and ignores other subchunks.
func StripWAVHeaderIfPresent(chunk []byte) ([]byte, error) {
	// Minimum RIFF header size: 12 bytes ("RIFF" + size + "WAVE")
	if len(chunk) < 12 {
		return chunk, nil
	}
	if !bytes.HasPrefix(chunk, []byte("RIFF")) || !bytes.Equal(chunk[8:12], []byte("WAVE")) {
		return chunk, nil
	}

	i := 12
	for i+8 <= len(chunk) {
		chunkID := string(chunk[i : i+4])
		chunkSize := binary.LittleEndian.Uint32(chunk[i+4 : i+8])
		next := i + 8 + int(chunkSize)

		if chunkID == "data" {
			if next > len(chunk) {
				return nil, errors.New("invalid WAV: data chunk exceeds buffer length")
			}
			return chunk[i+8 : next], nil
		}

		// Account for padding to even boundary
		if chunkSize%2 != 0 {
			next++
		}
		if next > len(chunk) {
			break
		}
		i = next
	}

	return nil, errors.New("invalid WAV: data chunk not found")
}

// ParseWAVFormat reads the fmt sub-chunk of a WAV file.
func ParseWAVFormat(chunk []byte) (WAVFormat, error) {
	if len(chunk) < WAVHeaderSize || !bytes.HasPrefix(chunk, []byte("RIFF")) || !bytes.Equal(chunk[8:12], []byte("WAVE")) {
		return WAVFormat{}, errors.New("not a RIFF/WAVE file")
	}
	i := 12
	for i+8 <= len(chunk) {
		chunkID := string(chunk[i : i+4])
		chunkSize := int(binary.LittleEndian.Uint32(chunk[i+4 : i+8]))
		if chunkID == "fmt " {
			if chunkSize < 16 || i+8+chunkSize > len(chunk) {
				return WAVFormat{}, errors.New("invalid WAV: truncated fmt chunk")
			}
			body := chunk[i+8:]
			return WAVFormat{
				Channels:      int(binary.LittleEndian.Uint16(body[2:4])),
				SampleRate:    int(binary.LittleEndian.Uint32(body[4:8])),
				BitsPerSample: int(binary.LittleEndian.Uint16(body[14:16])),
			}, nil
		}
		if chunkSize%2 != 0 {
			chunkSize++
		}
		i += 8 + chunkSize
	}
	return WAVFormat{}, errors.New("invalid WAV: fmt chunk not found")
}
