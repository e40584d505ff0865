// Command rvcinfer pitch-shifts a voice recording along its F0 contour.
//
// Usage:
//
//	rvcinfer --input in.wav --output out.wav [flags]
//
// Examples:
//
//	rvcinfer --input take.wav --output up.wav --pitch 12
//	rvcinfer --input take.wav --output down.wav --pitch -3 --f0_method yin
//	rvcinfer --input take.wav --output same.wav --device cpu
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/cockroachdb/errors"

	"github.com/cwbudde/algo-karaoke/convert"
	"github.com/cwbudde/algo-karaoke/dsp/f0"
	"github.com/cwbudde/algo-karaoke/internal/crepe"
	"github.com/cwbudde/algo-karaoke/internal/device"
	"github.com/cwbudde/algo-karaoke/internal/executor"
)

type options struct {
	input    string
	output   string
	model    string
	f0Method string
	pitch    float64
	quality  int
	device   string
	crepeBin string
	verbose  bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options

	fs := flag.NewFlagSet("rvcinfer", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.input, "input", "", "input WAV file (required)")
	fs.StringVar(&o.output, "output", "", "output WAV file (required)")
	fs.StringVar(&o.model, "model", "", "voice model path (accepted, not used)")
	fs.StringVar(&o.f0Method, "f0_method", string(f0.MethodCrepe), "F0 estimator: crepe or yin")
	fs.Float64Var(&o.pitch, "pitch", 0, "pitch shift in semitones, -24..24")
	fs.IntVar(&o.quality, "quality", convert.DefaultQuality, "quality setting (accepted, not used)")
	fs.StringVar(&o.device, "device", string(device.PreferAuto), "compute device: auto, cpu or accelerator")
	fs.StringVar(&o.crepeBin, "crepe-bin", crepe.DefaultBin, "CREPE executable")
	fs.BoolVar(&o.verbose, "v", false, "debug logging")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: rvcinfer --input in.wav --output out.wav [flags]\n\n")
		fmt.Fprintf(stderr, "Shifts the pitch of a voice recording by --pitch semitones.\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return o, err
	}

	if o.input == "" || o.output == "" {
		fs.Usage()
		return o, errors.New("--input and --output are required")
	}

	return o, nil
}

func run(ctx context.Context, o options, exec executor.Executor, logger log.Interface) error {
	method, ok := f0.ParseMethod(o.f0Method)
	if !ok {
		logger.WithField("f0_method", o.f0Method).Warn("Unknown F0 method, using yin")
		method = f0.MethodYIN
	}

	pref, err := device.ParsePreference(o.device)
	if err != nil {
		return err
	}

	dev := f0.DeviceCPU
	if method == f0.MethodCrepe {
		if dev, err = device.Resolve(ctx, exec, pref); err != nil {
			return err
		}
	}

	estimator, err := f0.NewEstimator(
		f0.WithMethod(method),
		f0.WithDevice(dev),
		f0.WithModel(crepe.New(exec, crepe.WithBinary(o.crepeBin))),
	)
	if err != nil {
		return errors.Wrap(err, "configuring F0 estimator")
	}

	pipeline, err := convert.New(estimator,
		convert.WithSemitones(o.pitch),
		convert.WithModelPath(o.model),
		convert.WithQuality(o.quality),
		convert.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	res, err := pipeline.ConvertFile(ctx, o.input, o.output)
	if err != nil {
		return err
	}

	logger.WithFields(log.Fields{
		"rate":      res.Output.SampleRate,
		"f0_method": res.F0Method,
		"fallback":  res.F0Fallback != nil,
		"semitones": res.Semitones,
		"seconds":   res.Output.Duration(),
	}).Infof("Wrote %s", o.output)

	return nil
}

func main() {
	o, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	log.SetHandler(cli.New(os.Stderr))
	if o.verbose {
		log.SetLevel(log.DebugLevel)
	}

	logger := log.Log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, executor.BinaryFileExecutor{}, logger); err != nil {
		if errors.Is(err, convert.ErrInputNotFound) {
			logger.WithField("input", o.input).Error("InputNotFound: input file does not exist")
		} else {
			logger.WithError(err).Error("Conversion failed")
			fmt.Fprintf(os.Stderr, "%+v\n", err)
		}
		stop()
		os.Exit(1)
	}
}
