package extract

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"
)

// TempPattern is the os.CreateTemp pattern for in-flight output files.
// Cleaners use TempPrefix and TempSuffix to recognise leftovers.
const (
	TempPrefix  = ".log-"
	TempSuffix  = ".tmp"
	TempPattern = TempPrefix + "*" + TempSuffix
)

// Lines between cancellation checks.
const checkEvery = 4096

// Result describes a completed extraction.
type Result struct {
	Path    string
	Scanned int64
	Lines   int64
	Bytes   int64
	Digest  string // hex BLAKE2b-256 of the output
}

// Runner filters the master log into output files.
type Runner struct {
	source  string
	bufSize int
}

// NewRunner returns a Runner reading from the master log at source.
func NewRunner(source string) *Runner {
	return &Runner{source: source, bufSize: 64 * 1024}
}

// Source returns the master log path.
func (r *Runner) Source() string { return r.source }

// Run streams the master log through the line filter and writes matching
// lines, in order, to outputPath. Output is written to a temp file in the
// same directory and renamed into place only after it is complete, so a
// cancelled or failed run never leaves a partial file at outputPath.
func (r *Runner) Run(ctx context.Context, outputPath string, rng Range) (Result, error) {
	var res Result
	src, err := os.Open(r.source)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{}, fmt.Errorf("%w: %s", ErrSourceUnavailable, r.source)
		}
		return Result{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(outputPath), TempPattern)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	sum, _ := blake2b.New256(nil)
	out := bufio.NewWriterSize(io.MultiWriter(tmp, sum), r.bufSize)
	in := bufio.NewReaderSize(src, r.bufSize)

	for {
		if res.Scanned%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
		}
		line, readErr := in.ReadBytes('\n')
		if len(line) > 0 {
			res.Scanned++
			line = bytes.TrimSuffix(line, []byte{'\n'})
			line = bytes.TrimSuffix(line, []byte{'\r'})
			if Include(line, rng.From, rng.To) {
				if _, err := out.Write(line); err != nil {
					return Result{}, fmt.Errorf("%w: %v", ErrWriteFailure, err)
				}
				if err := out.WriteByte('\n'); err != nil {
					return Result{}, fmt.Errorf("%w: %v", ErrWriteFailure, err)
				}
				res.Lines++
				res.Bytes += int64(len(line)) + 1
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return Result{}, fmt.Errorf("%w: reading %s: %v", ErrInternal, r.source, readErr)
		}
	}

	if err := out.Flush(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	if err := tmp.Sync(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	if err := tmp.Close(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := os.Rename(tmp.Name(), outputPath); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	committed = true

	res.Path = outputPath
	res.Digest = hex.EncodeToString(sum.Sum(nil))
	return res, nil
}
