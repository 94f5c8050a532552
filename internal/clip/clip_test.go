package clip

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-noisemeter/internal/capture"
	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
)

func TestRingKeepsNewestBytes(t *testing.T) {
	r := NewRing(6)

	_, err := r.Write([]byte("ab"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), r.Last(10))

	_, err = r.Write([]byte("cdefgh"))
	require.NoError(t, err)
	assert.Equal(t, 6, r.Len())
	assert.Equal(t, []byte("cdefgh"), r.Last(6))
	assert.Equal(t, []byte("gh"), r.Last(2))
	assert.Equal(t, []byte("gh"), r.Last(3), "odd request is trimmed to whole samples")

	n, err := r.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, []byte("456789"), r.Last(6))

	r.Reset()
	assert.Zero(t, r.Len())
	assert.Empty(t, r.Last(6))
}

func TestRingRoundsCapacityToSamples(t *testing.T) {
	r := NewRing(5)
	_, err := r.Write(pcm(1, 2, 3, 4))
	require.NoError(t, err)
	assert.Equal(t, 6, r.Len())
	assert.Equal(t, []int{2, 3, 4}, capture.PCMToInts(r.Last(r.Len())))
}

func TestRingSampleSplitAcrossWrites(t *testing.T) {
	r := NewRing(8)
	data := pcm(100, 200, 300, 400, 500, 600)

	// 5 bytes then 6 bytes: 300 and 600 are both cut between writes.
	_, err := r.Write(data[:5])
	require.NoError(t, err)
	assert.Equal(t, []int{100, 200}, capture.PCMToInts(r.Last(r.Len())))

	_, err = r.Write(data[5:11])
	require.NoError(t, err)
	assert.Equal(t, 8, r.Len())
	assert.Equal(t, []int{200, 300, 400, 500}, capture.PCMToInts(r.Last(r.Len())))

	_, err = r.Write(data[11:])
	require.NoError(t, err)
	assert.Equal(t, []int{300, 400, 500, 600}, capture.PCMToInts(r.Last(r.Len())))

	// A dangling half sample does not survive a reset.
	_, err = r.Write([]byte{0xff})
	require.NoError(t, err)
	r.Reset()
	_, err = r.Write(pcm(7))
	require.NoError(t, err)
	assert.Equal(t, []int{7}, capture.PCMToInts(r.Last(r.Len())))
}

type mockUploader struct{ mock.Mock }

func (m *mockUploader) Upload(cfg *types.S3Config, localPath string) (string, error) {
	args := m.Called(cfg.Bucket, filepath.Base(localPath))
	return args.String(0), args.Error(1)
}

func pcm(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestOnAlertSavesClip(t *testing.T) {
	dir := t.TempDir()
	var got *Result
	m := NewManager(dir, types.ClipConfig{Enabled: true, Seconds: 1}, types.S3Config{}, func(r *Result) { got = r })

	_, err := m.Write(pcm(100, -200, 300))
	require.NoError(t, err)

	at := time.Date(2025, 3, 14, 9, 26, 53, 0, time.Local)
	require.True(t, m.OnAlert("alert-1", at))
	m.Wait()

	require.NotNil(t, got)
	require.NoError(t, got.Error)
	assert.Equal(t, "alert-1", got.AlertID)
	assert.Equal(t, "2025-03-14_09-26-53.wav", got.Filename)
	assert.Empty(t, got.S3Key)
	assert.Positive(t, got.FileSize)

	f, err := os.Open(got.FilePath)
	require.NoError(t, err)
	defer f.Close()
	buf, err := wav.NewDecoder(f).FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, []int{100, -200, 300}, buf.Data)
}

func TestOnAlertUploadsWhenConfigured(t *testing.T) {
	up := &mockUploader{}
	up.On("Upload", "clips", mock.AnythingOfType("string")).Return("noise/clip.wav", nil).Once()

	var got *Result
	s3cfg := types.S3Config{Bucket: "clips", AccessKeyID: "id", SecretAccessKey: "secret"}
	m := NewManager(t.TempDir(), types.ClipConfig{Enabled: true, Seconds: 1}, s3cfg, func(r *Result) { got = r })
	m.uploader = up

	_, err := m.Write(pcm(1, 2))
	require.NoError(t, err)
	require.True(t, m.OnAlert("a", time.Now()))
	m.Wait()

	require.NotNil(t, got)
	assert.NoError(t, got.Error)
	assert.Equal(t, "noise/clip.wav", got.S3Key)
	up.AssertExpectations(t)
}

func TestOnAlertReportsUploadFailure(t *testing.T) {
	up := &mockUploader{}
	up.On("Upload", "clips", mock.Anything).Return("", errors.New("denied"))

	var got *Result
	s3cfg := types.S3Config{Bucket: "clips", AccessKeyID: "id", SecretAccessKey: "secret"}
	m := NewManager(t.TempDir(), types.ClipConfig{Enabled: true, Seconds: 1}, s3cfg, func(r *Result) { got = r })
	m.uploader = up

	_, err := m.Write(pcm(1))
	require.NoError(t, err)
	m.OnAlert("a", time.Now())
	m.Wait()

	require.NotNil(t, got)
	assert.EqualError(t, got.Error, "denied")
	assert.FileExists(t, got.FilePath, "local clip is kept")
}

func TestOnAlertDisabledOrEmpty(t *testing.T) {
	m := NewManager(t.TempDir(), types.ClipConfig{Enabled: false, Seconds: 1}, types.S3Config{}, nil)
	_, err := m.Write(pcm(1, 2, 3))
	require.NoError(t, err)
	assert.False(t, m.OnAlert("a", time.Now()))

	m.Configure(types.ClipConfig{Enabled: true, Seconds: 1}, types.S3Config{})
	assert.False(t, m.OnAlert("a", time.Now()), "nothing buffered while disabled")
}

func TestConfigureClampsSeconds(t *testing.T) {
	m := NewManager(t.TempDir(), types.ClipConfig{Enabled: true, Seconds: 0}, types.S3Config{}, nil)
	assert.Equal(t, 1, m.cfg.Seconds)

	m.Configure(types.ClipConfig{Enabled: true, Seconds: 600}, types.S3Config{})
	assert.Equal(t, MaxSeconds, m.cfg.Seconds)
}

func TestCleanup(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		"2025-01-01_10-00-00.wav",
		"2025-01-09_10-00-00.wav",
		"2025-01-01_10-00-00.txt",
		"notes.wav",
	}
	for _, name := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

	assert.Zero(t, Cleanup(dir, 0, now), "zero retention keeps everything")
	assert.Equal(t, 1, Cleanup(dir, 7, now))

	assert.NoFileExists(t, filepath.Join(dir, "2025-01-01_10-00-00.wav"))
	assert.FileExists(t, filepath.Join(dir, "2025-01-09_10-00-00.wav"))
	assert.FileExists(t, filepath.Join(dir, "2025-01-01_10-00-00.txt"))
	assert.FileExists(t, filepath.Join(dir, "notes.wav"))

	assert.Zero(t, Cleanup(filepath.Join(dir, "missing"), 7, now))
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "a.wav", ObjectKey("", "a.wav"))
	assert.Equal(t, "studio/a.wav", ObjectKey("studio", "a.wav"))
	assert.Equal(t, "studio/a.wav", ObjectKey("studio/", "a.wav"))
}

func TestS3ConnectionRequiresConfig(t *testing.T) {
	assert.Error(t, TestS3Connection(&types.S3Config{}))
}

func TestManagerStartStop(t *testing.T) {
	m := NewManager(t.TempDir(), types.ClipConfig{Enabled: true, Seconds: 1}, types.S3Config{}, nil)
	m.Start()
	m.Start()
	m.Stop()
	m.Stop()
}
