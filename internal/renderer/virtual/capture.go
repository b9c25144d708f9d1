package virtual

import (
	"math"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/spatialpump/spatialpump/internal/errors"
)

const (
	captureBitDepth = 16
	captureChannels = 1
	wavFormatPCM    = 1
)

// wavCapture writes the mono mix of committed batches to a 16-bit WAV file.
type wavCapture struct {
	path   string
	file   *os.File
	enc    *wav.Encoder
	buf    *audio.IntBuffer
	frames int64
}

func newWAVCapture(path string, sampleRate int) (*wavCapture, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.New(err).
			Component(componentVirtual).
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.New(err).
			Component(componentVirtual).
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}
	return &wavCapture{
		path: path,
		file: f,
		enc:  wav.NewEncoder(f, sampleRate, captureBitDepth, captureChannels, wavFormatPCM),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{SampleRate: sampleRate, NumChannels: captureChannels},
			SourceBitDepth: captureBitDepth,
		},
	}, nil
}

// WriteBatch sums every slot of b into one quantum of mono samples. A batch
// with no slots writes a quantum of silence so the capture keeps time.
func (c *wavCapture) WriteBatch(b Batch, quantum int) error {
	if cap(c.buf.Data) < quantum {
		c.buf.Data = make([]int, quantum)
	}
	c.buf.Data = c.buf.Data[:quantum]
	mix := make([]float64, quantum)
	for _, sf := range b.Slots {
		for i, v := range sf.Frames[:min(len(sf.Frames), quantum)] {
			mix[i] += float64(v)
		}
	}
	for i, v := range mix {
		c.buf.Data[i] = int(math.Round(math.Max(-1, math.Min(1, v)) * math.MaxInt16))
	}

	if err := c.enc.Write(c.buf); err != nil {
		return errors.New(err).
			Component(componentVirtual).
			Category(errors.CategoryFileIO).
			Context("operation", "wav_write").
			Build()
	}
	c.frames += int64(quantum)
	return nil
}

// Close finalizes the WAV header and closes the file.
func (c *wavCapture) Close() error {
	encErr := c.enc.Close()
	fileErr := c.file.Close()
	if err := errors.Join(encErr, fileErr); err != nil {
		return errors.New(err).
			Component(componentVirtual).
			Category(errors.CategoryFileIO).
			FileContext(c.path, 0).
			Build()
	}
	return nil
}
