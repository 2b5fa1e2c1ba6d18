package bridge

import "errors"

// ErrMissingTopics is returned when the sensor or command topic is not
// configured. The bridge cannot run without both.
var ErrMissingTopics = errors.New("bridge: sensor and command topics are required")
