// Command transcode demonstrates the encoder pipeline: it demuxes and
// decodes any input the ffmpeg binary understands into raw I420 frames over
// a pipe, pushes them through a codec.VideoEncoder and writes the resulting
// Annex B elementary stream to disk.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	ffmpegcli "github.com/u2takey/ffmpeg-go"
	"golang.org/x/sync/errgroup"

	"github.com/richinsley/gowebcodecs/codec"
	"github.com/richinsley/gowebcodecs/media"
)

func main() {
	input := flag.String("input", "", "input media file (anything ffmpeg can read)")
	output := flag.String("output", "out.h264", "output elementary stream")
	codecStr := flag.String("codec", "avc1.42001E", "WebCodecs codec string")
	width := flag.Int("width", 640, "encode width")
	height := flag.Int("height", 360, "encode height")
	fps := flag.Int("fps", 30, "frames per second")
	bitrate := flag.Int64("bitrate", 2_000_000, "target bits per second")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *input == "" {
		flag.PrintDefaults()
		os.Exit(2)
	}
	if err := run(*input, *output, *codecStr, *width, *height, *fps, *bitrate); err != nil {
		log.Fatal().Err(err).Msg("transcode failed")
	}
}

func run(input, output, codecStr string, width, height, fps int, bitrate int64) error {
	support, err := codec.IsVideoEncoderConfigSupported(&codec.VideoEncoderConfig{
		Codec: codecStr, Width: width, Height: height,
	})
	if err != nil {
		return err
	}
	if !support.Supported {
		return fmt.Errorf("codec %q is not supported by this build", codecStr)
	}

	out, err := os.Create(output)
	if err != nil {
		return err
	}
	defer out.Close()

	errCh := make(chan error, 1)
	chunks := 0
	enc, err := codec.NewVideoEncoder(&codec.VideoEncoderInit{
		Output: func(chunk *media.EncodedVideoChunk, _ *codec.VideoEncoderOutputMetadata) {
			buf := make([]byte, chunk.ByteLength())
			if err := chunk.CopyTo(buf); err != nil {
				return
			}
			if _, err := out.Write(buf); err == nil {
				chunks++
			}
		},
		Error: func(err error) {
			select {
			case errCh <- err:
			default:
			}
		},
	})
	if err != nil {
		return err
	}
	defer enc.Close()

	if err := enc.Configure(&codec.VideoEncoderConfig{
		Codec:   codecStr,
		Width:   width,
		Height:  height,
		Bitrate: bitrate,
		AVC:     &codec.AvcEncoderConfig{Format: "annexb"},
	}); err != nil {
		return err
	}

	// Demux + decode through the ffmpeg binary; raw I420 frames arrive on
	// the pipe.
	pipeReader, pipeWriter := io.Pipe()
	cmd := ffmpegcli.Input(input).
		Output("pipe:", ffmpegcli.KwArgs{
			"f":       "rawvideo",
			"pix_fmt": "yuv420p",
			"s":       fmt.Sprintf("%dx%d", width, height),
			"r":       fmt.Sprintf("%d", fps),
		}).
		WithOutput(pipeWriter).
		Compile()

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		defer pipeWriter.Close()
		return cmd.Run()
	})
	g.Go(func() error {
		defer pipeReader.Close()
		frameSize := width*height + 2*((width/2)*(height/2))
		buf := make([]byte, frameSize)
		frameDur := int64(1_000_000 / fps)
		var pts int64
		for i := 0; ; i++ {
			if _, err := io.ReadFull(pipeReader, buf); err != nil {
				if err == io.EOF || err == io.ErrUnexpectedEOF {
					return nil
				}
				return err
			}
			frame, err := media.NewVideoFrame(buf, &media.VideoFrameInit{
				Format:      media.FormatI420,
				CodedWidth:  width,
				CodedHeight: height,
				Timestamp:   pts,
				Duration:    &frameDur,
			})
			if err != nil {
				return err
			}
			err = enc.Encode(frame, &codec.VideoEncoderEncodeOptions{KeyFrame: i == 0})
			frame.Close()
			if err != nil {
				return err
			}
			pts += frameDur

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if err := enc.Flush(context.Background()); err != nil {
		return err
	}
	log.Info().Int("chunks", chunks).Str("output", output).Msg("transcode complete")
	return nil
}
