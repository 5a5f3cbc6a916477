package knnindex

import "errors"

// ErrInsufficientPool is returned by New and Compile when the working
// capacity 2*k exceeds the number of other items available to sample from.
var ErrInsufficientPool = errors.New("knnindex: 2*k must not exceed len(items)-1")

// ErrNotCompiled is returned by KNearest and ErrorRatio when called while
// the index is dirty (mutated since the last successful compile).
var ErrNotCompiled = errors.New("knnindex: index is dirty, call Compile first")

// ErrInvalidConfig is returned by New when k < 1 or delta is outside (0, 1].
var ErrInvalidConfig = errors.New("knnindex: invalid configuration")
