// Package series downsamples irregular equity-sample streams into evenly
// spaced points for charting. All functions are pure and stateless.
package series

import (
	"sort"
	"time"
)

// Point is one (time, value) sample.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Bucket width table, keyed by display range. Short ranges get fine buckets,
// long ranges coarse ones.
const (
	widthUnder24h = 5 * time.Minute
	widthUnder3d  = 15 * time.Minute
	widthUnder7d  = 30 * time.Minute
	widthBeyond7d = time.Hour
)

// BucketWidth returns the bucket width for a requested display range.
func BucketWidth(displayRange time.Duration) time.Duration {
	switch {
	case displayRange <= 0:
		return widthBeyond7d
	case displayRange <= 24*time.Hour:
		return widthUnder24h
	case displayRange <= 72*time.Hour:
		return widthUnder3d
	case displayRange <= 7*24*time.Hour:
		return widthUnder7d
	default:
		return widthBeyond7d
	}
}

// Bucket assigns each point to floor(timestamp/width)*width and keeps only
// the last point by timestamp within each bucket. Last-value-wins preserves
// the most recent state as of each bucket boundary, which is the correct
// semantic for an equity curve; averaging would invent values the account
// never held. Output is one point per occupied bucket, ascending by bucket
// time, and the operation is idempotent at a fixed width.
func Bucket(points []Point, width time.Duration) []Point {
	if len(points) == 0 {
		return nil
	}
	if width <= 0 {
		width = widthBeyond7d
	}

	latest := make(map[int64]Point, len(points))
	for _, p := range points {
		key := p.Time.UnixMilli() / width.Milliseconds()
		if prev, ok := latest[key]; ok && prev.Time.After(p.Time) {
			continue
		}
		latest[key] = p
	}

	keys := make([]int64, 0, len(latest))
	for k := range latest {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]Point, 0, len(keys))
	for _, k := range keys {
		out = append(out, Point{
			Time:  time.UnixMilli(k * width.Milliseconds()).UTC(),
			Value: latest[k].Value,
		})
	}
	return out
}
