// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package heap

import (
	"os"
	"sync"

	"github.com/shirou/gopsutil/process"
)

var (
	rssOnce    sync.Once
	rssProc    *process.Process
	rssProcErr error
)

// rssProcess lazily resolves a gopsutil handle on the current process. The
// handle is cheap to reuse across collections and gopsutil re-reads
// /proc on every MemoryInfo call, so one handle for the process lifetime
// is enough.
func rssProcess() (*process.Process, error) {
	rssOnce.Do(func() {
		rssProc, rssProcErr = process.NewProcess(int32(os.Getpid()))
	})
	return rssProc, rssProcErr
}
