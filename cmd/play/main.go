// Command play demonstrates the audio decode pipeline: it pulls an ADTS
// AAC elementary stream out of any input via the ffmpeg binary, splits it
// into chunks, decodes them with a codec.AudioDecoder and plays the samples
// through portaudio, printing a small FFT level meter while it runs.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/mjibson/go-dsp/fft"
	"github.com/rs/zerolog/log"
	ffmpegcli "github.com/u2takey/ffmpeg-go"

	"github.com/richinsley/gowebcodecs/codec"
	"github.com/richinsley/gowebcodecs/media"
)

var adtsSampleRates = []int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350, 0, 0, 0,
}

// adtsHeader is the fixed part of one ADTS frame.
type adtsHeader struct {
	sampleRate  int
	channels    int
	frameLength int
}

func parseADTSHeader(b []byte) (adtsHeader, bool) {
	if len(b) < 7 || b[0] != 0xFF || b[1]&0xF0 != 0xF0 {
		return adtsHeader{}, false
	}
	h := adtsHeader{
		sampleRate:  adtsSampleRates[(b[2]>>2)&0x0F],
		channels:    int((b[2]&0x01)<<2 | (b[3]>>6)&0x03),
		frameLength: int(b[3]&0x03)<<11 | int(b[4])<<3 | int(b[5])>>5,
	}
	if h.sampleRate == 0 || h.frameLength < 7 {
		return adtsHeader{}, false
	}
	return h, true
}

func main() {
	input := flag.String("input", "", "input media file with an audio stream")
	meter := flag.Bool("meter", true, "print an FFT level meter while playing")
	flag.Parse()
	if *input == "" {
		flag.PrintDefaults()
		os.Exit(2)
	}
	if err := run(*input, *meter); err != nil {
		log.Fatal().Err(err).Msg("play failed")
	}
}

func run(input string, meter bool) error {
	// Remux the audio track to ADTS over a pipe; the container stays out
	// of process.
	pipeReader, pipeWriter := io.Pipe()
	cmd := ffmpegcli.Input(input).
		Output("pipe:", ffmpegcli.KwArgs{
			"f":   "adts",
			"c:a": "aac",
			"vn":  "",
		}).
		WithOutput(pipeWriter).
		Compile()
	go func() {
		defer pipeWriter.Close()
		if err := cmd.Run(); err != nil && !strings.Contains(err.Error(), "signal") {
			log.Warn().Err(err).Msg("ffmpeg demux finished with error")
		}
	}()
	defer pipeReader.Close()

	stream, err := io.ReadAll(pipeReader)
	if err != nil {
		return err
	}
	if len(stream) == 0 {
		return fmt.Errorf("no audio data in %s", input)
	}
	head, ok := parseADTSHeader(stream)
	if !ok {
		return fmt.Errorf("input did not produce an ADTS stream")
	}

	var (
		mu      sync.Mutex
		samples []float32
		decErr  error
	)
	f32at := func(b []byte, i int) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	dec, err := codec.NewAudioDecoder(&codec.AudioDecoderInit{
		Output: func(data *media.AudioData) {
			defer data.Close()
			frames := data.NumberOfFrames()
			channels := data.NumberOfChannels()
			if data.NumberOfPlanes() > 1 {
				// Planar output: interleave the channel planes.
				planes := make([][]byte, channels)
				for p := 0; p < channels; p++ {
					planes[p] = make([]byte, frames*4)
					if err := data.CopyTo(planes[p], &media.AudioDataCopyToOptions{PlaneIndex: p}); err != nil {
						return
					}
				}
				mu.Lock()
				for i := 0; i < frames; i++ {
					for p := 0; p < channels; p++ {
						samples = append(samples, f32at(planes[p], i))
					}
				}
				mu.Unlock()
				return
			}
			buf := make([]byte, frames*channels*4)
			if err := data.CopyTo(buf, &media.AudioDataCopyToOptions{PlaneIndex: 0}); err != nil {
				return
			}
			mu.Lock()
			for i := 0; i < frames*channels; i++ {
				samples = append(samples, f32at(buf, i))
			}
			mu.Unlock()
		},
		Error: func(err error) {
			mu.Lock()
			decErr = err
			mu.Unlock()
		},
	})
	if err != nil {
		return err
	}
	defer dec.Close()

	if err := dec.Configure(&codec.AudioDecoderConfig{
		Codec:            "mp4a.40.2",
		SampleRate:       head.sampleRate,
		NumberOfChannels: head.channels,
	}); err != nil {
		return err
	}

	// Walk the ADTS frames; each one is a self-contained chunk.
	var pts int64
	for off := 0; off+7 <= len(stream); {
		h, ok := parseADTSHeader(stream[off:])
		if !ok {
			off++
			continue
		}
		end := off + h.frameLength
		if end > len(stream) {
			break
		}
		chunk, err := media.NewEncodedAudioChunk(&media.EncodedAudioChunkInit{
			Type: media.ChunkTypeKey, Timestamp: pts, Data: stream[off:end],
		})
		if err != nil {
			return err
		}
		if err := dec.Decode(chunk); err != nil {
			return err
		}
		pts += 1024 * 1_000_000 / int64(h.sampleRate)
		off = end
	}
	if err := dec.Flush(context.Background()); err != nil {
		return err
	}

	mu.Lock()
	pcm := samples
	err = decErr
	mu.Unlock()
	if err != nil {
		return err
	}
	if len(pcm) == 0 {
		return fmt.Errorf("decoder produced no samples")
	}
	log.Info().Int("samples", len(pcm)).Int("sampleRate", head.sampleRate).
		Int("channels", head.channels).Msg("decoded, starting playback")

	if err := portaudio.Initialize(); err != nil {
		return err
	}
	defer portaudio.Terminate()

	const block = 1024
	out := make([]float32, block*head.channels)
	pa, err := portaudio.OpenDefaultStream(0, head.channels, float64(head.sampleRate), block, &out)
	if err != nil {
		return err
	}
	defer pa.Close()
	if err := pa.Start(); err != nil {
		return err
	}
	defer pa.Stop()

	for off := 0; off < len(pcm); off += len(out) {
		n := copy(out, pcm[off:])
		for i := n; i < len(out); i++ {
			out[i] = 0
		}
		if err := pa.Write(); err != nil {
			return err
		}
		if meter {
			printMeter(out, head.channels)
		}
	}
	fmt.Println()
	return nil
}

// printMeter runs an FFT over the current block's first channel and draws
// the dominant bin's magnitude as a bar.
func printMeter(block []float32, channels int) {
	mono := make([]float64, 0, len(block)/channels)
	for i := 0; i < len(block); i += channels {
		mono = append(mono, float64(block[i]))
	}
	spectrum := fft.FFTReal(mono)
	peak := 0.0
	for _, bin := range spectrum[:len(spectrum)/2] {
		if m := math.Hypot(real(bin), imag(bin)); m > peak {
			peak = m
		}
	}
	bars := int(math.Min(40, peak))
	fmt.Printf("\r[%-40s]", strings.Repeat("#", bars))
}
