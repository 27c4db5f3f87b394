package analysis

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
)

// DecodeFile loads an audio file as mono float64 PCM at the requested
// sample rate. WAV, FLAC and MP3 are decoded natively; everything else
// (m4a, webm, ogg, aac, opus) goes through ffmpeg.
func DecodeFile(path string, sampleRate int) ([]float64, error) {
	var samples []float64
	var nativeRate int
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		samples, nativeRate, err = decodeWAV(path)
	case ".flac":
		samples, nativeRate, err = decodeFLAC(path)
	case ".mp3":
		samples, nativeRate, err = decodeMP3(path)
	default:
		// ffmpeg already resamples and downmixes for us
		return decodeFFmpeg(path, sampleRate)
	}
	if err != nil {
		return nil, err
	}

	if nativeRate != sampleRate {
		samples = resamplePoly(samples, nativeRate, sampleRate)
	}
	return samples, nil
}

// decodeWAV reads PCM through go-audio/wav, downmixing by channel mean.
func decodeWAV(path string) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("invalid wav file: %s", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode wav: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels < 1 || buf.Format.SampleRate < 1 {
		return nil, 0, fmt.Errorf("invalid wav format: %s", path)
	}

	channels := buf.Format.NumChannels
	scale := math.Pow(2, float64(buf.SourceBitDepth-1))
	if scale <= 0 {
		scale = 1 << 15
	}
	frames := len(buf.Data) / channels
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		sum := 0.0
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c]) / scale
		}
		samples[i] = sum / float64(channels)
	}
	return samples, buf.Format.SampleRate, nil
}

// decodeFLAC reads PCM frame by frame via mewkiz/flac.
func decodeFLAC(path string) ([]float64, int, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to parse flac: %w", err)
	}
	defer stream.Close()

	info := stream.Info
	if info.SampleRate == 0 || info.NChannels == 0 {
		return nil, 0, fmt.Errorf("flac stream missing sample info: %s", path)
	}
	scale := math.Pow(2, float64(info.BitsPerSample-1))
	channels := int(info.NChannels)

	var samples []float64
	if info.NSamples > 0 {
		samples = make([]float64, 0, info.NSamples)
	}
	for {
		frame, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("failed to decode flac frame: %w", err)
		}
		blockSize := int(frame.BlockSize)
		for i := 0; i < blockSize; i++ {
			sum := 0.0
			for c := 0; c < channels; c++ {
				sum += float64(frame.Subframes[c].Samples[i]) / scale
			}
			samples = append(samples, sum/float64(channels))
		}
	}
	return samples, int(info.SampleRate), nil
}

// decodeMP3 reads 16-bit stereo PCM via go-mp3 and downmixes.
func decodeMP3(path string) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec, err := gomp3.NewDecoder(f)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode mp3: %w", err)
	}

	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read mp3 samples: %w", err)
	}

	// go-mp3 always emits 16-bit little-endian stereo
	frames := len(raw) / 4
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		left := int16(binary.LittleEndian.Uint16(raw[i*4:]))
		right := int16(binary.LittleEndian.Uint16(raw[i*4+2:]))
		samples[i] = (float64(left) + float64(right)) / 2 / 32768
	}
	return samples, dec.SampleRate(), nil
}

// decodeFFmpeg shells out for formats without a native decoder, asking
// ffmpeg for mono float32 PCM at the target rate.
func decodeFFmpeg(path string, sampleRate int) ([]float64, error) {
	cmd := exec.Command("ffmpeg",
		"-v", "error",
		"-i", path,
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("ffmpeg decode failed: %s", msg)
	}

	raw := stdout.Bytes()
	samples := make([]float64, len(raw)/4)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(raw[i*4:])
		samples[i] = float64(math.Float32frombits(bits))
	}
	return samples, nil
}

// resamplePoly performs rational polyphase resampling with a Kaiser
// windowed-sinc anti-aliasing filter.
func resamplePoly(x []float64, origRate, targetRate int) []float64 {
	if origRate == targetRate || len(x) == 0 {
		return x
	}
	g := gcd(origRate, targetRate)
	up := targetRate / g
	down := origRate / g

	maxRate := up
	if down > maxRate {
		maxRate = down
	}
	half := 10 * maxRate
	taps := buildKaiserSinc(half, up, down)

	outLen := int(math.Ceil(float64(len(x)) * float64(up) / float64(down)))
	out := make([]float64, outLen)
	for n := 0; n < outLen; n++ {
		center := n*down + half
		// only taps landing on real (non-zero-stuffed) samples contribute
		first := center - len(taps) + 1
		if first < 0 {
			first = 0
		}
		rem := first % up
		if rem != 0 {
			first += up - rem
		}
		sum := 0.0
		for idx := first; idx <= center && idx/up < len(x); idx += up {
			j := center - idx
			if j < len(taps) {
				sum += taps[j] * x[idx/up]
			}
		}
		out[n] = sum * float64(up)
	}
	return out
}

// buildKaiserSinc designs the low-pass filter used by resamplePoly:
// windowed sinc with cutoff at the tighter of the two Nyquist bounds,
// Kaiser beta 5.
func buildKaiserSinc(half, up, down int) []float64 {
	const beta = 5.0
	n := 2*half + 1
	maxRate := up
	if down > maxRate {
		maxRate = down
	}
	cutoff := 1.0 / float64(maxRate)

	taps := make([]float64, n)
	denom := besselI0(beta)
	for i := 0; i < n; i++ {
		m := float64(i - half)
		// sinc low-pass
		var sinc float64
		if m == 0 {
			sinc = cutoff
		} else {
			sinc = math.Sin(math.Pi*cutoff*m) / (math.Pi * m)
		}
		// Kaiser window
		r := 2 * float64(i) / float64(n-1)
		arg := beta * math.Sqrt(math.Max(0, 1-(r-1)*(r-1)))
		taps[i] = sinc * besselI0(arg) / denom
	}
	return taps
}

// besselI0 is the zeroth-order modified Bessel function (series form).
func besselI0(x float64) float64 {
	sum := 1.0
	term := 1.0
	half := x / 2
	for k := 1; k < 32; k++ {
		term *= (half / float64(k)) * (half / float64(k))
		sum += term
		if term < 1e-12*sum {
			break
		}
	}
	return sum
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
