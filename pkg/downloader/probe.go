package downloader

import (
	"encoding/binary"
	"io"
	"os"
)

// ProbeAudio reads duration and sample rate from a canonical WAV header.
// Other formats report zeros; remote fetches get these fields from yt-dlp
// instead.
func ProbeAudio(path string) (durationSeconds float64, sampleRate int) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0
	}
	defer f.Close()

	header := make([]byte, 44)
	if _, err := io.ReadFull(f, header); err != nil {
		return 0, 0
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" || string(header[12:16]) != "fmt " {
		return 0, 0
	}
	sampleRate = int(binary.LittleEndian.Uint32(header[24:28]))
	byteRate := binary.LittleEndian.Uint32(header[28:32])
	if string(header[36:40]) != "data" || byteRate == 0 {
		return 0, sampleRate
	}
	dataLen := binary.LittleEndian.Uint32(header[40:44])
	return float64(dataLen) / float64(byteRate), sampleRate
}
