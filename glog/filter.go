// Copyright (c) 2021 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package glog

import (
	"bytes"
	"io"

	"github.com/aristanetworks/glog"
)

// lineFilterWriter drops any line (as split by '\n' within a single Write)
// containing one of substrs, forwarding everything else to out.
type lineFilterWriter struct {
	out     io.Writer
	substrs []string
}

func (w *lineFilterWriter) Write(p []byte) (int, error) {
	lines := bytes.Split(p, []byte("\n"))
	kept := lines[:0]
	for _, line := range lines {
		suppress := false
		for _, s := range w.substrs {
			if bytes.Contains(line, []byte(s)) {
				suppress = true
				break
			}
		}
		if !suppress {
			kept = append(kept, line)
		}
	}
	if _, err := w.out.Write(bytes.Join(kept, []byte("\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SuppressLines installs a filtering writer over glog's current output that
// drops any log line containing one of substrs. It returns a function that
// restores the previous output.
func SuppressLines(substrs ...string) func() {
	filter := &lineFilterWriter{substrs: substrs}
	prev := glog.SetOutput(filter)
	filter.out = prev
	return func() {
		glog.SetOutput(prev)
	}
}
