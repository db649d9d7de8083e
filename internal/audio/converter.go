package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// InputSampleRate is the rate the relay and speech model expect from the microphone.
	InputSampleRate = 16000
	// OutputSampleRate is the rate of model audio.
	OutputSampleRate = 24000
	// BytesPerSample for 16-bit mono PCM.
	BytesPerSample = 2
)

// BytesToSamples decodes little-endian 16-bit PCM.
func BytesToSamples(pcm []byte) ([]int16, error) {
	if len(pcm)%BytesPerSample != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples), got %d", len(pcm))
	}
	samples := make([]int16, len(pcm)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples, nil
}

// SamplesToBytes encodes samples as little-endian 16-bit PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// ConvertRate resamples 16-bit PCM from inputRate to outputRate.
func ConvertRate(pcm []byte, inputRate, outputRate int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("empty PCM data")
	}
	if inputRate <= 0 || outputRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", inputRate, outputRate)
	}
	samples, err := BytesToSamples(pcm)
	if err != nil {
		return nil, err
	}
	return SamplesToBytes(Resample(samples, inputRate, outputRate)), nil
}

// Resample performs linear interpolation resampling.
func Resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(samples) == 0 {
		return samples
	}

	outputLength := len(samples) * outputRate / inputRate
	step := float64(inputRate) / float64(outputRate)
	output := make([]int16, outputLength)

	for i := 0; i < outputLength; i++ {
		srcPos := float64(i) * step

		idx0 := int(srcPos)
		if idx0 >= len(samples) {
			idx0 = len(samples) - 1
		}
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}

		fraction := srcPos - float64(idx0)
		output[i] = int16(math.Round(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction))
	}

	return output
}

// DownmixToMono averages interleaved channels.
func DownmixToMono(interleaved []int16, channels int) []int16 {
	if channels <= 1 {
		return interleaved
	}
	mono := make([]int16, len(interleaved)/channels)
	for i := range mono {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += int(interleaved[i*channels+c])
		}
		mono[i] = int16(sum / channels)
	}
	return mono
}

// DurationOf returns the playback length of mono 16-bit PCM at rate.
func DurationOf(pcmBytes, rate int) float64 {
	if rate <= 0 {
		return 0
	}
	return float64(pcmBytes/BytesPerSample) / float64(rate)
}

// NormalizeAudio scales samples down so the peak does not exceed maxAmplitude.
func NormalizeAudio(samples []int16, maxAmplitude int16) []int16 {
	if len(samples) == 0 {
		return samples
	}

	maxVal := 0
	for _, sample := range samples {
		abs := int(sample)
		if abs < 0 {
			abs = -abs
		}
		if abs > maxVal {
			maxVal = abs
		}
	}

	if maxVal <= int(maxAmplitude) {
		return samples
	}

	ratio := float64(maxAmplitude) / float64(maxVal)
	normalized := make([]int16, len(samples))
	for i, sample := range samples {
		normalized[i] = int16(float64(sample) * ratio)
	}

	return normalized
}

// CalculateRMS calculates the root mean square of samples.
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
