package server

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// supportedEncodings in order of preference.
var supportedEncodings = []string{"zstd", "gzip"}

// negotiateEncoding picks a content coding from an Accept-Encoding header.
// It returns "" for identity.
func negotiateEncoding(header string) string {
	if header == "" {
		return ""
	}
	accepted := make(map[string]bool)
	for _, part := range strings.Split(header, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		q := 1.0
		if k, v, ok := strings.Cut(strings.TrimSpace(params), "="); ok && strings.TrimSpace(k) == "q" {
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				q = f
			}
		}
		accepted[name] = q > 0
	}
	for _, enc := range supportedEncodings {
		if accepted[enc] {
			return enc
		}
	}
	return ""
}

// compressTo copies src to w encoded with enc.
func compressTo(w io.Writer, enc string, src io.Reader) error {
	switch enc {
	case "zstd":
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return err
		}
		if _, err := io.Copy(zw, src); err != nil {
			zw.Close()
			return err
		}
		return zw.Close()
	case "gzip":
		gw := gzip.NewWriter(w)
		if _, err := io.Copy(gw, src); err != nil {
			gw.Close()
			return err
		}
		return gw.Close()
	default:
		return fmt.Errorf("unsupported encoding %q", enc)
	}
}
