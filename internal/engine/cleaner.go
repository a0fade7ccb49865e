package engine

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/coffersTech/logextract/internal/extract"
)

// Cleaner removes generated output files from the log directory. It never
// touches the master log.
type Cleaner struct {
	dir       string
	master    string
	Retention time.Duration
}

// NewCleaner creates a Cleaner for the resolver's log directory.
func NewCleaner(resolver *extract.Resolver, retention time.Duration) *Cleaner {
	return &Cleaner{
		dir:       resolver.Dir(),
		master:    filepath.Base(resolver.MasterLogPath()),
		Retention: retention,
	}
}

// RunCleaner periodically purges expired output files until ctx is done.
func (c *Cleaner) RunCleaner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("Cleaner started. Retention: %v, Interval: %v", c.Retention, interval)

	for {
		select {
		case <-ticker.C:
			if c.Retention <= 0 {
				continue
			}
			c.PurgeExpired()
			c.RemoveTemps(interval)
		case <-ctx.Done():
			return
		}
	}
}

// PurgeExpired deletes output files last modified more than Retention ago.
func (c *Cleaner) PurgeExpired() int {
	threshold := time.Now().Add(-c.Retention)
	return c.remove(func(name string) bool {
		return name != c.master && strings.HasPrefix(name, "log-") && strings.HasSuffix(name, ".log")
	}, threshold)
}

// RemoveTemps deletes in-flight temp files older than age, which can only
// be leftovers from a crashed process.
func (c *Cleaner) RemoveTemps(age time.Duration) int {
	return c.remove(func(name string) bool {
		return strings.HasPrefix(name, extract.TempPrefix) && strings.HasSuffix(name, extract.TempSuffix)
	}, time.Now().Add(-age))
}

func (c *Cleaner) remove(match func(string) bool, threshold time.Time) int {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Cleaner error: failed to read log dir: %v", err)
		}
		return 0
	}

	count := 0
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || !match(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(threshold) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil {
			log.Printf("Cleaner error: failed to delete %s: %v", name, err)
			continue
		}
		log.Printf("Expired file deleted: %s", name)
		count++
	}
	return count
}
