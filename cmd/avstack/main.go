package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strings"
	"sync"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/avstack"
	"github.com/xaionaro-go/avstack/frame"
	"github.com/xaionaro-go/avstack/kernel"
	"github.com/xaionaro-go/avstack/types"
	"github.com/xaionaro-go/observability"
)

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "syntax: %s [flags] <URL-input-0> <URL-input-1> [... <URL-input-N>] <URL-output>\n", os.Args[0])
		pflag.PrintDefaults()
	}

	loggerLevel := logger.LevelWarning
	pflag.Var(&loggerLevel, "log-level", "Log level")
	netPprofAddr := pflag.String("net-pprof-listen-addr", "", "an address to listen for incoming net/pprof connections")
	vertical := pflag.Bool("vertical", false, "stack the inputs vertically instead of horizontally")
	shortest := pflag.Bool("shortest", false, "terminate when the shortest input terminates")
	hwAccel := pflag.String("hwaccel", "", "hardware acceleration to use for compositing (e.g.: 'qsv' or 'vaapi')")
	hwDevice := pflag.String("hwaccel-device", "", "the accelerator device to use (e.g.: '/dev/dri/renderD128')")
	pflag.Parse()
	if len(pflag.Args()) < 3 {
		pflag.Usage()
		os.Exit(1)
	}

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	ctx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()
	logger.Default = func() logger.Logger {
		return l
	}
	defer belt.Flush(ctx)

	if *netPprofAddr != "" {
		observability.Go(ctx, func(ctx context.Context) { l.Error(http.ListenAndServe(*netPprofAddr, nil)) })
	}

	astiav.SetLogLevel(avstack.LogLevelToAstiav(l.Level()))
	astiav.SetLogCallback(func(c astiav.Classer, level astiav.LogLevel, fmt, msg string) {
		var cs string
		if c != nil {
			if cl := c.Class(); cl != nil {
				cs = " - class: " + cl.String()
			}
		}
		l.Logf(
			avstack.LogLevelFromAstiav(level),
			"%s%s",
			strings.TrimSpace(msg), cs,
		)
	})

	inputURLs := pflag.Args()[:len(pflag.Args())-1]
	outputURL := pflag.Arg(len(pflag.Args()) - 1)

	closer := astikit.NewCloser()
	defer closer.Close()

	inputs := make([]*input, 0, len(inputURLs))
	for idx, url := range inputURLs {
		l.Debugf("opening '%s' as input %d...", url, idx)
		inp, err := openInput(ctx, closer, idx, url)
		if err != nil {
			l.Fatal(fmt.Errorf("unable to open input %d ('%s'): %w", idx, url, err))
		}
		inputs = append(inputs, inp)
	}

	stackCfg := kernel.DefaultStackConfig()
	stackCfg.Inputs = uint(len(inputs))
	stackCfg.Shortest = *shortest
	stackCfg.OutputPixelFormat = inputs[0].streamInfo.CodecParameters.PixelFormat()
	stackCfg.HardwareDeviceType = types.HardwareDeviceTypeFromString(*hwAccel)
	stackCfg.HardwareDeviceName = types.HardwareDeviceName(*hwDevice)
	if *hwAccel == "" {
		stackCfg.HardwareDeviceType = types.HardwareDeviceTypeNone
	}

	newStack := kernel.NewHStack
	if *vertical {
		newStack = kernel.NewVStack
	}
	stack, err := newStack(ctx, &stackCfg)
	if err != nil {
		l.Fatal(fmt.Errorf("unable to initialize the stacking kernel: %w", err))
	}
	defer stack.Close(ctx)

	outputFramesCh := make(chan frame.Output, len(inputs))

	var readersWG sync.WaitGroup
	for _, inp := range inputs {
		readersWG.Add(1)
		observability.Go(ctx, func(ctx context.Context) {
			defer readersWG.Done()
			if err := inp.readLoop(ctx, stack, outputFramesCh); err != nil {
				l.Errorf("input %d ('%s') failed: %v", inp.idx, inp.url, err)
				cancelFn()
			}
		})
	}
	observability.Go(ctx, func(ctx context.Context) {
		readersWG.Wait()
		close(outputFramesCh)
	})

	var output *sink
	for outputFrame := range outputFramesCh {
		if output == nil {
			l.Debugf("opening '%s' as the output...", outputURL)
			output, err = newSink(ctx, closer, outputURL, outputFrame.StreamInfo)
			if err != nil {
				l.Fatal(fmt.Errorf("unable to open the output ('%s'): %w", outputURL, err))
			}
		}
		err := output.writeFrame(ctx, outputFrame)
		frame.Pool.Put(outputFrame.Frame)
		if err != nil {
			l.Fatal(fmt.Errorf("unable to write a composed frame: %w", err))
		}
	}

	if output == nil {
		l.Fatal(errors.New("no composed frames were produced"))
	}
	if err := output.finish(ctx); err != nil {
		l.Fatal(fmt.Errorf("unable to finalize the output: %w", err))
	}
}

type input struct {
	idx             int
	url             string
	formatContext   *astiav.FormatContext
	stream          *astiav.Stream
	decCodecContext *astiav.CodecContext
	decFrame        *astiav.Frame
	streamInfo      *frame.StreamInfo
}

func openInput(
	ctx context.Context,
	closer *astikit.Closer,
	idx int,
	url string,
) (*input, error) {
	formatContext := astiav.AllocFormatContext()
	if formatContext == nil {
		return nil, errors.New("unable to allocate a format context")
	}
	closer.Add(formatContext.Free)

	if err := formatContext.OpenInput(url, nil, nil); err != nil {
		return nil, fmt.Errorf("unable to open the input: %w", err)
	}
	closer.Add(formatContext.CloseInput)

	if err := formatContext.FindStreamInfo(nil); err != nil {
		return nil, fmt.Errorf("unable to find the stream info: %w", err)
	}

	var videoStream *astiav.Stream
	for _, is := range formatContext.Streams() {
		if is.CodecParameters().MediaType() == astiav.MediaTypeVideo {
			videoStream = is
			break
		}
	}
	if videoStream == nil {
		return nil, errors.New("no video stream found")
	}

	decCodec := astiav.FindDecoder(videoStream.CodecParameters().CodecID())
	if decCodec == nil {
		return nil, fmt.Errorf("unable to find a decoder for %s", videoStream.CodecParameters().CodecID())
	}
	decCodecContext := astiav.AllocCodecContext(decCodec)
	if decCodecContext == nil {
		return nil, errors.New("unable to allocate a codec context")
	}
	closer.Add(decCodecContext.Free)

	if err := videoStream.CodecParameters().ToCodecContext(decCodecContext); err != nil {
		return nil, fmt.Errorf("unable to copy the codec parameters to the codec context: %w", err)
	}
	decCodecContext.SetFramerate(formatContext.GuessFrameRate(videoStream, nil))
	decCodecContext.SetTimeBase(videoStream.TimeBase())
	if err := decCodecContext.Open(decCodec, nil); err != nil {
		return nil, fmt.Errorf("unable to open the codec context: %w", err)
	}

	decFrame := astiav.AllocFrame()
	closer.Add(decFrame.Free)

	return &input{
		idx:             idx,
		url:             url,
		formatContext:   formatContext,
		stream:          videoStream,
		decCodecContext: decCodecContext,
		decFrame:        decFrame,
		streamInfo: &frame.StreamInfo{
			CodecParameters: videoStream.CodecParameters(),
			StreamIndex:     idx,
			TimeBase:        videoStream.TimeBase(),
			FrameRate:       formatContext.GuessFrameRate(videoStream, nil),
		},
	}, nil
}

// readLoop demuxes and decodes the input's video stream, feeding every
// decoded frame into the stacking kernel under this input's slot.
func (inp *input) readLoop(
	ctx context.Context,
	stack *kernel.Stack,
	outputFramesCh chan<- frame.Output,
) error {
	pkt := astiav.AllocPacket()
	defer pkt.Free()

	sendDecoded := func() error {
		for {
			if err := inp.decCodecContext.ReceiveFrame(inp.decFrame); err != nil {
				if errors.Is(err, astiav.ErrEof) || errors.Is(err, astiav.ErrEagain) {
					return nil
				}
				return fmt.Errorf("unable to receive a frame: %w", err)
			}
			input := frame.BuildInput(inp.decFrame, 0, inp.streamInfo)
			err := stack.SendInputFrame(ctx, input, outputFramesCh)
			inp.decFrame.Unref()
			if err != nil {
				return err
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := inp.formatContext.ReadFrame(pkt); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				break
			}
			return fmt.Errorf("unable to read a packet: %w", err)
		}
		if pkt.StreamIndex() != inp.stream.Index() {
			pkt.Unref()
			continue
		}
		err := inp.decCodecContext.SendPacket(pkt)
		pkt.Unref()
		if err != nil {
			return fmt.Errorf("unable to send a packet to the decoder: %w", err)
		}
		if err := sendDecoded(); err != nil {
			if errors.Is(err, io.EOF) {
				// the compositor terminated (e.g. the shortest input ended)
				return nil
			}
			return err
		}
	}

	// flush the decoder
	if err := inp.decCodecContext.SendPacket(nil); err == nil {
		if err := sendDecoded(); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
	}

	return stack.SendEOF(ctx, inp.idx, outputFramesCh)
}

type sink struct {
	formatContext   *astiav.FormatContext
	ioContext       *astiav.IOContext
	stream          *astiav.Stream
	encCodecContext *astiav.CodecContext
	encPkt          *astiav.Packet
}

func newSink(
	ctx context.Context,
	closer *astikit.Closer,
	url string,
	streamInfo *frame.StreamInfo,
) (*sink, error) {
	formatContext, err := astiav.AllocOutputFormatContext(nil, "", url)
	if err != nil {
		return nil, fmt.Errorf("unable to allocate the output format context: %w", err)
	}
	closer.Add(formatContext.Free)

	ioContext, err := astiav.OpenIOContext(url, astiav.NewIOContextFlags(astiav.IOContextFlagWrite), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to open the IO context: %w", err)
	}
	formatContext.SetPb(ioContext)

	encCodec := astiav.FindEncoder(astiav.CodecIDH264)
	if encCodec == nil {
		return nil, errors.New("unable to find an H264 encoder")
	}
	encCodecContext := astiav.AllocCodecContext(encCodec)
	if encCodecContext == nil {
		return nil, errors.New("unable to allocate a codec context")
	}
	closer.Add(encCodecContext.Free)

	cp := streamInfo.CodecParameters
	encCodecContext.SetWidth(cp.Width())
	encCodecContext.SetHeight(cp.Height())
	encCodecContext.SetPixelFormat(cp.PixelFormat())
	encCodecContext.SetSampleAspectRatio(cp.SampleAspectRatio())
	encCodecContext.SetTimeBase(streamInfo.TimeBase)
	encCodecContext.SetFramerate(streamInfo.FrameRate)
	if err := encCodecContext.Open(encCodec, nil); err != nil {
		return nil, fmt.Errorf("unable to open the codec context: %w", err)
	}

	outputStream := formatContext.NewStream(nil)
	if outputStream == nil {
		return nil, errors.New("unable to create the output stream")
	}
	if err := outputStream.CodecParameters().FromCodecContext(encCodecContext); err != nil {
		return nil, fmt.Errorf("unable to copy the codec parameters from the codec context: %w", err)
	}
	outputStream.SetTimeBase(encCodecContext.TimeBase())

	if err := formatContext.WriteHeader(nil); err != nil {
		return nil, fmt.Errorf("unable to write the header: %w", err)
	}

	encPkt := astiav.AllocPacket()
	closer.Add(encPkt.Free)

	return &sink{
		formatContext:   formatContext,
		ioContext:       ioContext,
		stream:          outputStream,
		encCodecContext: encCodecContext,
		encPkt:          encPkt,
	}, nil
}

func (s *sink) writeFrame(ctx context.Context, f frame.Output) error {
	if err := s.encCodecContext.SendFrame(f.Frame); err != nil {
		return fmt.Errorf("unable to send the frame to the encoder: %w", err)
	}
	return s.drainEncoder(ctx)
}

func (s *sink) drainEncoder(ctx context.Context) error {
	for {
		if err := s.encCodecContext.ReceivePacket(s.encPkt); err != nil {
			if errors.Is(err, astiav.ErrEof) || errors.Is(err, astiav.ErrEagain) {
				return nil
			}
			return fmt.Errorf("unable to receive a packet from the encoder: %w", err)
		}
		s.encPkt.SetStreamIndex(s.stream.Index())
		s.encPkt.RescaleTs(s.encCodecContext.TimeBase(), s.stream.TimeBase())
		err := s.formatContext.WriteInterleavedFrame(s.encPkt)
		s.encPkt.Unref()
		if err != nil {
			return fmt.Errorf("unable to write the packet: %w", err)
		}
	}
}

func (s *sink) finish(ctx context.Context) error {
	if err := s.encCodecContext.SendFrame(nil); err == nil {
		if err := s.drainEncoder(ctx); err != nil {
			return err
		}
	}
	if err := s.formatContext.WriteTrailer(); err != nil {
		return fmt.Errorf("unable to write the trailer: %w", err)
	}
	if err := s.ioContext.Close(); err != nil {
		return fmt.Errorf("unable to close the IO context: %w", err)
	}
	s.ioContext.Free()
	return nil
}
