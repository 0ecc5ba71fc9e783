package ws

import "errors"

var ErrSendQueueFull = errors.New("SEND_QUEUE_FULL")
