package rtsp

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lestrrat-go/strftime"

	"github.com/wisslanding/aircast/internal/config"
)

// Saver is the optional RTSP debug capture. The file name is a
// strftime pattern, so captures roll over into a fresh file whenever
// the formatted name changes (daily, with the default pattern).
type Saver struct {
	mu      sync.Mutex
	cfg     config.RTSPSaverConfig
	pattern string
	fp      *os.File
	name    string
}

// NewSaver builds a Saver from config; when cfg.Enable is false, every
// method is a no-op so callers don't need to branch on the setting.
func NewSaver(cfg config.RTSPSaverConfig) (*Saver, error) {
	if !cfg.Enable {
		return &Saver{cfg: cfg}, nil
	}

	pattern := cfg.File
	if pattern == "" {
		pattern = "rtsp-%Y-%m-%d.log"
	}
	if _, err := strftime.Format(pattern, time.Now()); err != nil {
		return nil, fmt.Errorf("rtsp: compiling saver file pattern %q: %w", pattern, err)
	}
	if cfg.Path != "" {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("rtsp: creating saver directory %s: %w", cfg.Path, err)
		}
	}
	return &Saver{cfg: cfg, pattern: pattern}, nil
}

// Record appends a one-line summary of req to the current capture
// file. Failures are logged, not returned; a capture problem is never
// fatal for the owning session.
func (s *Saver) Record(req *Request) {
	if s == nil || !s.cfg.Enable {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	name, err := strftime.Format(s.pattern, time.Now())
	if err != nil {
		log.Error("rtsp saver: formatting file name", "err", err)
		return
	}
	if name != s.name || s.fp == nil {
		if s.fp != nil {
			s.fp.Close()
		}
		full := filepath.Join(s.cfg.Path, name)
		fp, err := os.OpenFile(full, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
		if err != nil {
			log.Error("rtsp saver: opening capture file", "path", full, "err", err)
			return
		}
		s.fp = fp
		s.name = name
	}

	fmt.Fprintf(s.fp, "%s %s %s cseq=%d content-length=%d\n",
		time.Now().UTC().Format(time.RFC3339Nano), req.Method, req.Path, req.CSeq, req.ContentLength)
}

// Close releases the open capture file, if any.
func (s *Saver) Close() error {
	if s == nil || s.fp == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fp.Close()
}
