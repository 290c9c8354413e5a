package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ivlev/photoseq/internal/config"
	"github.com/ivlev/photoseq/internal/engine"
	"github.com/ivlev/photoseq/internal/model"
	"github.com/ivlev/photoseq/internal/planner"
	"github.com/ivlev/photoseq/internal/source"
	"github.com/ivlev/photoseq/internal/system"
	"github.com/ivlev/photoseq/internal/validator"
)

const (
	exitFailed    = 1
	exitSelection = 2
	exitCancelled = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	system.InitResourceLimits()

	def := config.DefaultOptions()
	inputPtr := flag.String("input", "input/photos", "Папка, из которой берутся самые свежие фото, если фото не переданы аргументами")
	outputPtr := flag.String("output", "", "Путь к видео (если пусто, генерируется автоматически в output/)")
	configPtr := flag.String("config", "", "Файл настроек (.yaml, .yml или .toml)")
	holdPtr := flag.Float64("hold", def.HoldSeconds, "Длительность показа одного фото в секундах")
	transSecPtr := flag.Float64("transition-seconds", def.TransitionSeconds, "Длительность перехода (сек)")
	transitionPtr := flag.String("transition", def.Transition, "Тип перехода: fade, wipeleft, slideup, none")
	widthPtr := flag.Int("width", def.Resolution.Width, "Ширина")
	heightPtr := flag.Int("height", def.Resolution.Height, "Высота")
	presetPtr := flag.String("preset", "", "Пресет формата: 16:9, 9:16 (Shorts/TikTok), 4:5 (Instagram), 720p")
	fpsPtr := flag.Int("fps", def.FPS, "FPS")
	encoderPtr := flag.String("encoder", def.Encoder, "Энкодер: auto, ffmpeg, mjpeg")
	qualityPtr := flag.Int("quality", 0, "Качество видео (0 - авто, x264: CRF 1-51, VideoToolbox: битрейт = Q*100кбит/с, mjpeg: JPEG 1-100)")
	backgroundPtr := flag.String("background", def.Background, "Цвет полей, #RRGGBB")
	minPtr := flag.Int("min", def.MinPhotos, "Минимальное число фото")
	maxPtr := flag.Int("max", def.MaxPhotos, "Максимальное число фото")
	workersPtr := flag.Int("workers", 0, "Потоки проверки фото (0 - по числу CPU)")
	planPtr := flag.String("plan", "", "Только проверить и спланировать, записав таймлайн в YAML по этому пути")
	statsPtr := flag.Bool("stats", false, "Показать отчет о производительности")

	flag.Parse()

	opts := def
	if *configPtr != "" {
		loaded, err := config.LoadFile(*configPtr, opts)
		if err != nil {
			log.Printf("[-] Ошибка: %v", err)
			return exitSelection
		}
		opts = loaded
	}

	// Явно заданные флаги важнее файла настроек
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "hold":
			opts.HoldSeconds = *holdPtr
		case "transition-seconds":
			opts.TransitionSeconds = *transSecPtr
		case "transition":
			opts.Transition = *transitionPtr
		case "width":
			opts.Resolution.Width = *widthPtr
		case "height":
			opts.Resolution.Height = *heightPtr
		case "fps":
			opts.FPS = *fpsPtr
		case "encoder":
			opts.Encoder = *encoderPtr
		case "quality":
			opts.Quality = *qualityPtr
		case "background":
			opts.Background = *backgroundPtr
		case "min":
			opts.MinPhotos = *minPtr
		case "max":
			opts.MaxPhotos = *maxPtr
		case "workers":
			opts.Workers = *workersPtr
		case "stats":
			opts.ShowStats = *statsPtr
		}
	})
	if *presetPtr != "" {
		res, ok := config.Preset(*presetPtr)
		if !ok {
			log.Printf("[-] Ошибка: неизвестный пресет %q", *presetPtr)
			return exitSelection
		}
		opts.Resolution = res
	}

	refs, err := selectPhotos(flag.Args(), *inputPtr, opts.MaxPhotos)
	if err != nil {
		log.Printf("[-] Ошибка: %v. Положите фото в %s или передайте их аргументами", err, *inputPtr)
		return exitSelection
	}

	if *outputPtr != "" {
		opts.DestinationPath = *outputPtr
	} else if opts.DestinationPath == "" {
		opts.DestinationPath = defaultOutput(opts.Encoder)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("--- [PHOTO SEQUENCE] ---")
	fmt.Printf("[*] Фото: %d | Результат: %s\n", len(refs), opts.DestinationPath)
	fmt.Println("------------------------")

	src := source.NewFileSource()
	if *planPtr != "" {
		return writePlan(ctx, src, refs, opts, *planPtr)
	}

	compiler := engine.NewCompiler(src)
	job, err := compiler.Compile(ctx, refs, opts)
	if err != nil {
		return report(err)
	}

	for p := range job.Updates() {
		if p.FramesTotal > 0 {
			fmt.Printf("\r[>] %-11s %d/%d", p.State, p.FramesProduced, p.FramesTotal)
		}
	}
	fmt.Println()

	artifact, err := job.Wait(context.Background())
	if err != nil {
		return report(err)
	}
	fmt.Printf("[+++] Успех! Результат: %s (%.2fs, %dx%d @ %d FPS, %s)\n",
		artifact.Path, artifact.DurationSeconds, artifact.Width, artifact.Height, artifact.FPS, job.Elapsed().Round(time.Millisecond))
	return 0
}

func writePlan(ctx context.Context, src source.Source, refs []string, opts config.Options, path string) int {
	v := validator.New(src)
	v.Workers = opts.Workers
	req, err := v.Validate(ctx, refs, opts)
	if err != nil {
		return report(err)
	}
	tl := planner.Plan(*req)
	if err := planner.WriteTimeline(tl, path); err != nil {
		log.Printf("[-] Не удалось записать таймлайн: %v", err)
		return exitFailed
	}
	fmt.Printf("[*] Таймлайн записан в %s: кадров %d (%.2fs)\n", path, tl.TotalFrames, tl.DurationSeconds())
	return 0
}

// selectPhotos resolves the photo list: explicit arguments in order, a single
// directory argument expanded by name, or the newest photos of the input folder.
func selectPhotos(args []string, inputDir string, max int) ([]string, error) {
	if len(args) == 1 {
		if fi, err := os.Stat(args[0]); err == nil && fi.IsDir() {
			return source.ListImages(args[0])
		}
	}
	if len(args) > 0 {
		return args, nil
	}
	return system.FindLatestImages(inputDir, max)
}

func defaultOutput(encoder string) string {
	ext := ".mp4"
	if encoder == "mjpeg" || (encoder == "auto" && !system.HasFFmpeg()) {
		ext = ".avi"
	}
	os.MkdirAll("output", 0755)
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return filepath.Join("output", "slideshow_"+timestamp+ext)
}

func report(err error) int {
	switch {
	case model.IsCancelled(err):
		log.Printf("[!] Отменено")
		return exitCancelled
	case model.IsSelectionError(err):
		log.Printf("[-] Ошибка выбора фото: %v", err)
		return exitSelection
	default:
		log.Printf("[-] Ошибка: %s", strings.TrimSpace(err.Error()))
		return exitFailed
	}
}
