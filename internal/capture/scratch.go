package capture

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/oszuidwest/zwfm-noisemeter/internal/audio"
	"github.com/oszuidwest/zwfm-noisemeter/internal/util"
)

// ScratchFile is the temporary WAV recording made during a session.
// It is written as audio arrives and removed by Remove.
type ScratchFile struct {
	mu      sync.Mutex
	file    *os.File
	enc     *wav.Encoder
	format  *goaudio.Format
	pending []byte
	samples int64
	closed  bool
}

// CreateScratchFile creates a new noise-*.wav file in dir (os.TempDir when empty).
func CreateScratchFile(dir string) (*ScratchFile, error) {
	f, err := os.CreateTemp(dir, "noise-*.wav")
	if err != nil {
		return nil, util.WrapError("create scratch file", err)
	}
	return &ScratchFile{
		file:   f,
		enc:    wav.NewEncoder(f, audio.SampleRate, audio.BytesPerSample*8, audio.Channels, 1),
		format: &goaudio.Format{SampleRate: audio.SampleRate, NumChannels: audio.Channels},
	}, nil
}

// Path returns the file location.
func (s *ScratchFile) Path() string {
	return s.file.Name()
}

// Samples returns the number of samples written so far.
func (s *ScratchFile) Samples() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples
}

// Write appends S16LE PCM to the recording.
func (s *ScratchFile) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, os.ErrClosed
	}

	buf := p
	if len(s.pending) > 0 {
		buf = append(s.pending, p...)
		s.pending = nil
	}
	if len(buf)%2 == 1 {
		s.pending = []byte{buf[len(buf)-1]}
		buf = buf[:len(buf)-1]
	}
	if len(buf) == 0 {
		return len(p), nil
	}

	ints := PCMToInts(buf)
	if err := s.enc.Write(&goaudio.IntBuffer{Data: ints, Format: s.format, SourceBitDepth: 16}); err != nil {
		return 0, fmt.Errorf("write scratch audio: %w", err)
	}
	s.samples += int64(len(ints))
	return len(p), nil
}

// Close finalizes the WAV header and closes the file.
func (s *ScratchFile) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	encErr := s.enc.Close()
	fileErr := s.file.Close()
	if encErr != nil {
		return util.WrapError("finalize scratch file", encErr)
	}
	return fileErr
}

// Remove closes the file and deletes it from disk.
func (s *ScratchFile) Remove() error {
	closeErr := s.Close()
	if err := os.Remove(s.Path()); err != nil && !os.IsNotExist(err) {
		return util.WrapError("remove scratch file", err)
	}
	return closeErr
}

// PCMToInts converts S16LE bytes to one int per sample.
func PCMToInts(pcm []byte) []int {
	out := make([]int, len(pcm)/audio.BytesPerSample)
	for i := range out {
		out[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*audio.BytesPerSample:])))
	}
	return out
}
