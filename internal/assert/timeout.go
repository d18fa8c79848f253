package assert

import "time"

// timeout is the default amount of time assertions wait for asynchronous
// events.
const timeout = 10 * time.Second
