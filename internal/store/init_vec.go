//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register sqlite-vec as an auto-loadable extension. Without this
	// build tag the store falls back to brute-force cosine similarity.
	vec.Auto()
}
