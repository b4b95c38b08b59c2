package es

import (
	"log/slog"
	"strconv"
)

// Version is the position of an event within its aggregate stream. The first
// event of a stream has version 1; zero means "no events".
//
// When saving, the expected version handed to the store is the aggregate's
// committed version; the store rejects the append if it differs from the
// stream's current version.
type Version uint64

func (v Version) Uint64() uint64                         { return uint64(v) }
func (v Version) String() string                         { return strconv.FormatUint(uint64(v), 10) }
func (v Version) Next() Version                          { return v + 1 }
func (v Version) SlogAttr() slog.Attr                    { return newSlogVersionAttr("version", v) }
func (v Version) SlogAttrWithKey(key string) slog.Attr   { return newSlogVersionAttr(key, v) }
func newSlogVersionAttr(key string, v Version) slog.Attr { return slog.Uint64(key, uint64(v)) }
