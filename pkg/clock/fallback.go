package clock

import "time"

var processStart = time.Now()

// fallbackNow measures from process start using the runtime's monotonic reading.
func fallbackNow() int64 { return int64(time.Since(processStart)) }
