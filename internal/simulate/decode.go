package simulate

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"

	"github.com/spatialpump/spatialpump/internal/errors"
)

// pcm is decoded interleaved audio in [-1, 1].
type pcm struct {
	samples    []float32
	channels   int
	sampleRate int
}

// LoadMono decodes a .wav, .mp3 or .ogg file, averages its channels and
// resamples it to sampleRate.
func LoadMono(path string, sampleRate int) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component(componentSimulate).
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}

	var p pcm
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav":
		p, err = decodeWAV(bytes.NewReader(data))
	case ".mp3":
		p, err = decodeMP3(bytes.NewReader(data))
	case ".ogg", ".oga":
		p, err = decodeOgg(bytes.NewReader(data))
	default:
		return nil, errors.Newf("unsupported audio file type %q", ext).
			Component(componentSimulate).
			Category(errors.CategoryValidation).
			FileContext(path, int64(len(data))).
			Build()
	}
	if err != nil {
		return nil, errors.New(err).
			Component(componentSimulate).
			Category(errors.CategoryFileParsing).
			FileContext(path, int64(len(data))).
			Build()
	}

	mono := downmix(p.samples, p.channels)
	if len(mono) == 0 {
		return nil, errors.Newf("audio file contains no samples").
			Component(componentSimulate).
			Category(errors.CategoryFileParsing).
			FileContext(path, int64(len(data))).
			Build()
	}
	return resample(mono, p.sampleRate, sampleRate), nil
}

func decodeWAV(r io.ReadSeeker) (pcm, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return pcm{}, errors.NewStd("input is not a valid WAV audio file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return pcm{}, err
	}

	divisor, err := audioDivisor(int(dec.BitDepth))
	if err != nil {
		return pcm{}, err
	}
	out := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = float32(v) / divisor
	}
	return pcm{samples: out, channels: int(dec.NumChans), sampleRate: int(dec.SampleRate)}, nil
}

func audioDivisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 8:
		return 128.0, nil
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, errors.Newf("unsupported bit depth: %d", bitDepth).
			Component(componentSimulate).
			Category(errors.CategoryValidation).
			Build()
	}
}

// decodeMP3 reads the whole stream. go-mp3 always yields 16-bit stereo.
func decodeMP3(r io.Reader) (pcm, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return pcm{}, err
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return pcm{}, err
	}
	out := make([]float32, len(raw)/2)
	for i := range out {
		out[i] = float32(int16(uint16(raw[2*i])|uint16(raw[2*i+1])<<8)) / 32768.0
	}
	return pcm{samples: out, channels: 2, sampleRate: dec.SampleRate()}, nil
}

func decodeOgg(r io.Reader) (pcm, error) {
	samples, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return pcm{}, err
	}
	return pcm{samples: samples, channels: format.Channels, sampleRate: format.SampleRate}, nil
}

// downmix averages interleaved channels into one.
func downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	out := make([]float32, len(samples)/channels)
	for i := range out {
		var sum float32
		for _, v := range samples[i*channels : (i+1)*channels] {
			sum += v
		}
		out[i] = sum / float32(channels)
	}
	return out
}
