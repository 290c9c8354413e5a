package system

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
)

// InitResourceLimits пытается увеличить лимит открытых файлов
func InitResourceLimits() {
	var rLimit syscall.Rlimit
	err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		log.Printf("[!] Не удалось получить лимит файлов: %v", err)
		return
	}

	// Попробуем поставить 2048 или максимум, разрешенный системой
	rLimit.Cur = 2048
	if rLimit.Cur > rLimit.Max {
		rLimit.Cur = rLimit.Max
	}

	err = syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		log.Printf("[!] Не удалось установить лимит файлов: %v", err)
	}
}

// FindLatestImages ищет n самых свежих изображений в директории и возвращает их
// от старых к новым, чтобы порядок совпадал с порядком съемки.
func FindLatestImages(dir string, n int) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	extensions := []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tif", ".tiff"}

	type candidate struct {
		path    string
		modUnix int64
	}
	var found []candidate

	for _, f := range files {
		if f.IsDir() {
			continue
		}
		isImage := false
		for _, ext := range extensions {
			if strings.HasSuffix(strings.ToLower(f.Name()), ext) {
				isImage = true
				break
			}
		}
		if !isImage {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		found = append(found, candidate{path: filepath.Join(dir, f.Name()), modUnix: info.ModTime().UnixNano()})
	}

	if len(found) == 0 {
		return nil, fmt.Errorf("в папке %s не найдено изображений", dir)
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].modUnix != found[j].modUnix {
			return found[i].modUnix > found[j].modUnix
		}
		return found[i].path < found[j].path
	})
	if n > 0 && len(found) > n {
		found = found[:n]
	}
	// обратно: от старых к новым
	paths := make([]string, len(found))
	for i, c := range found {
		paths[len(found)-1-i] = c.path
	}
	return paths, nil
}

// HasFFmpeg проверяет, есть ли ffmpeg в PATH
func HasFFmpeg() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

var (
	bestEncoderOnce sync.Once
	bestEncoder     string
)

// GetBestH264Encoder выбирает аппаратный H.264 энкодер, если ffmpeg собран с ним,
// иначе libx264. Проверка выполняется один раз за процесс.
func GetBestH264Encoder() string {
	bestEncoderOnce.Do(func() {
		bestEncoder = "libx264"

		out, err := exec.Command("ffmpeg", "-hide_banner", "-encoders").CombinedOutput()
		if err != nil {
			return
		}
		// Приоритеты: VideoToolbox (macOS), NVENC (NVIDIA)
		for _, name := range []string{"h264_videotoolbox", "h264_nvenc"} {
			if strings.Contains(string(out), name) {
				bestEncoder = name
				return
			}
		}
	})
	return bestEncoder
}

// DefaultQuality возвращает качество по умолчанию для энкодера (когда передан 0)
func DefaultQuality(encoderName string) int {
	switch encoderName {
	case "h264_videotoolbox":
		return 75 // битрейт = Q*100 кбит/с. 75 -> 7.5Мбит/с
	case "h264_nvenc":
		return 28 // CQ, эквивалент CRF для NVENC
	case "mjpeg":
		return 90 // качество JPEG
	default:
		return 23 // стандартный CRF для x264
	}
}
