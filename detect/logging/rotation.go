package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"floodsentry/detect/config"
)

// Setup routes the operational log through a size-and-age rotated file and
// returns the writer handed to log.SetOutput. With logging disabled it
// falls back to stdout so the binary stays usable in dev shells.
func Setup(cfg config.LoggingConfig) io.Writer {
	if !cfg.Enabled || cfg.Filename == "" {
		return os.Stdout
	}

	w := &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    orDefault(cfg.MaxSizeMB, 100),
		MaxBackups: orDefault(cfg.MaxBackups, 3),
		MaxAge:     orDefault(cfg.MaxAgeDays, 28),
		Compress:   cfg.Compress,
	}

	log.Printf("Log rotation enabled: %s (max_size=%dMB, max_backups=%d, max_age=%dd, compress=%v)",
		cfg.Filename, w.MaxSize, w.MaxBackups, w.MaxAge, w.Compress)
	return w
}

// Tee returns a writer that duplicates output to stdout, for running in the
// foreground while still keeping the rotated file.
func Tee(file io.Writer) io.Writer {
	return io.MultiWriter(os.Stdout, file)
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
