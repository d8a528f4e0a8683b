// Package retention deletes batch artifacts that have outlived their
// retention window.
package retention

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"taxiflow/config"
	"taxiflow/metrics"
)

const day = 24 * time.Hour

const (
	CategoryOutput    = "output"
	CategoryLogs      = "logs"
	CategoryProcessed = "processed"
)

// Category is one directory and how long its files are kept.
type Category struct {
	Name   string
	Dir    string
	Window time.Duration
}

type CategoryReport struct {
	Category   string `json:"category"`
	Deleted    int    `json:"deleted"`
	FreedBytes int64  `json:"freed_bytes"`
	Failed     int    `json:"failed"`
}

type Report struct {
	Categories []CategoryReport `json:"categories"`
}

func (r Report) TotalDeleted() int {
	n := 0
	for _, c := range r.Categories {
		n += c.Deleted
	}
	return n
}

func (r Report) TotalFreedBytes() int64 {
	var n int64
	for _, c := range r.Categories {
		n += c.FreedBytes
	}
	return n
}

type Policy struct {
	Categories []Category

	now func() time.Time
}

func NewPolicy(categories ...Category) *Policy {
	return &Policy{Categories: categories, now: time.Now}
}

// FromConfig builds the output, logs and processed categories. The logs
// category is skipped when no log directory is configured.
func FromConfig(cfg *config.Config) *Policy {
	cats := []Category{
		{Name: CategoryOutput, Dir: cfg.Batch.OutputDir, Window: time.Duration(cfg.Retention.OutputDays) * day},
	}
	if cfg.Log.Dir != "" {
		cats = append(cats, Category{Name: CategoryLogs, Dir: cfg.Log.Dir, Window: time.Duration(cfg.Retention.LogsDays) * day})
	}
	cats = append(cats, Category{Name: CategoryProcessed, Dir: cfg.Batch.ProcessedDir, Window: time.Duration(cfg.Retention.ProcessedDays) * day})
	return NewPolicy(cats...)
}

// Cleanup removes regular files directly under each category directory
// whose modification time is strictly before now minus the window.
// Failures on one file are logged and do not stop the sweep.
func (p *Policy) Cleanup() Report {
	now := p.now()
	report := Report{Categories: make([]CategoryReport, 0, len(p.Categories))}
	for _, c := range p.Categories {
		cr := sweep(c, now.Add(-c.Window))
		metrics.CleanupDeleted.WithLabelValues(c.Name).Add(float64(cr.Deleted))
		metrics.CleanupFreedBytes.WithLabelValues(c.Name).Add(float64(cr.FreedBytes))
		log.Info().
			Str("category", c.Name).
			Str("dir", c.Dir).
			Int("deleted", cr.Deleted).
			Int64("freed_bytes", cr.FreedBytes).
			Msg("retention sweep")
		report.Categories = append(report.Categories, cr)
	}
	return report
}

func sweep(c Category, cutoff time.Time) CategoryReport {
	cr := CategoryReport{Category: c.Name}
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("dir", c.Dir).Msg("retention: cannot read directory")
			cr.Failed++
		}
		return cr
	}

	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed since ReadDir
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(c.Dir, e.Name())
		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				log.Warn().Err(err).Str("path", path).Msg("retention: delete failed")
				cr.Failed++
			}
			continue
		}
		cr.Deleted++
		cr.FreedBytes += info.Size()
	}
	return cr
}
