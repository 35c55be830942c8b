// ocrcli 识别单个本地图像文件并以 JSON 输出结果，使用与服务端相同的配置和引擎
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/PhiFever/devanagari-ocr-server/internal/config"
	"github.com/PhiFever/devanagari-ocr-server/internal/imageproc"
	"github.com/PhiFever/devanagari-ocr-server/internal/logger"
	"github.com/PhiFever/devanagari-ocr-server/internal/recognizer"
	"github.com/PhiFever/devanagari-ocr-server/internal/textnorm"
	"github.com/PhiFever/devanagari-ocr-server/pkg/utils"
)

type lineOutput struct {
	Text       string `json:"text"`
	Confidence string `json:"confidence"`
	Box        [4]int `json:"box"`
}

type output struct {
	RecognizedText string       `json:"recognized_text"`
	Confidence     string       `json:"confidence"`
	Engine         string       `json:"engine,omitempty"`
	Elapsed        string       `json:"elapsed,omitempty"`
	Lines          []lineOutput `json:"lines,omitempty"`
}

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	imagePath := flag.String("image", "", "image file to recognize")
	engineName := flag.String("engine", "", "override ocr.engine")
	detail := flag.Bool("detail", false, "include per-line results")
	verbose := flag.Bool("v", false, "log at DEBUG level to stderr")
	flag.Parse()

	if *imagePath == "" && flag.NArg() > 0 {
		*imagePath = flag.Arg(0)
	}
	if *imagePath == "" {
		fmt.Fprintln(os.Stderr, "usage: ocrcli [-config file] [-engine name] [-detail] -image <file>")
		os.Exit(2)
	}

	level := logger.WARNING
	if *verbose {
		level = logger.DEBUG
	}
	logger.SetupWithWriters(level, logger.FormatText, os.Stderr)
	defer logger.Close()

	if err := run(*configPath, *imagePath, *engineName, *detail); err != nil {
		fmt.Fprintf(os.Stderr, "ocrcli: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, imagePath, engineName string, detail bool) error {
	cfg, err := config.Get(config.ResolvePath(configPath))
	if err != nil {
		return err
	}
	if engineName != "" {
		cfg.OCR.Engine = engineName
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}
	if cfg.Server.TempDir, err = utils.GetTempDir(cfg.Server.TempDir); err != nil {
		return err
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return err
	}
	decoded, err := imageproc.Decode(data, imageproc.DefaultMaxPixels)
	if err != nil {
		return err
	}
	img := imageproc.Prepare(decoded.Image, imageproc.Options{
		MaxSide:   cfg.Image.MaxSide,
		Grayscale: cfg.Image.Grayscale,
		Binarize:  cfg.Image.Binarize,
	})

	engine, err := recognizer.DefaultRegistry().Build(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx := context.Background()
	if cfg.OCR.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.OCR.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := engine.Recognize(ctx, img)
	if err != nil {
		return err
	}

	out := output{
		RecognizedText: res.Text,
		Confidence:     textnorm.FormatConfidence(res.Confidence),
	}
	if detail {
		out.Engine = engine.Name()
		out.Elapsed = utils.GetReadableTimeDelta(time.Since(start))
		for _, l := range res.Lines {
			out.Lines = append(out.Lines, lineOutput{
				Text:       l.Text,
				Confidence: textnorm.FormatConfidence(l.Confidence),
				Box:        [4]int{l.Box.Min.X, l.Box.Min.Y, l.Box.Max.X, l.Box.Max.Y},
			})
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
