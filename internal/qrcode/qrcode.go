// Package qrcode builds image URLs for a hosted QR rendering API. Images are
// never rendered in-process.
package qrcode

import (
	"net/url"
	"strconv"
)

const (
	MinSize     = 100
	MaxSize     = 1000
	DefaultSize = 300
	DefaultBase = "https://api.qrserver.com/v1/create-qr-code/"
)

type Builder struct {
	base string
	size int
}

// New returns a Builder for base. An empty base selects DefaultBase; size is
// clamped to [MinSize, MaxSize], and zero selects DefaultSize.
func New(base string, size int) *Builder {
	if base == "" {
		base = DefaultBase
	}
	if size == 0 {
		size = DefaultSize
	}
	return &Builder{base: base, size: clamp(size)}
}

// URL returns the image URL for payload at the builder's size.
func (b *Builder) URL(payload string) string {
	return b.SizedURL(payload, b.size)
}

func (b *Builder) SizedURL(payload string, size int) string {
	size = clamp(size)
	dim := strconv.Itoa(size)
	q := url.Values{}
	q.Set("size", dim+"x"+dim)
	q.Set("data", payload)
	sep := "?"
	if u, err := url.Parse(b.base); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	return b.base + sep + q.Encode()
}

func clamp(size int) int {
	switch {
	case size < MinSize:
		return MinSize
	case size > MaxSize:
		return MaxSize
	}
	return size
}
