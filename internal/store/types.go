package store

import "time"

// File is one row of the files table.
type File struct {
	ID          int64
	URI         string
	Module      string
	Hash        uint64
	LastIndexed time.Time
}
