// Copyright (C) 2016  Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package monotime

import "time"

// Since returns the time elapsed since t, which must have come from Now.
func Since(t uint64) time.Duration {
	return time.Duration(Now() - t)
}
