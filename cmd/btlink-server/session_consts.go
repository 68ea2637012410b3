package main

import "time"

const (
	reconnectBackoffMin = 1 * time.Second
	reconnectBackoffMax = 30 * time.Second
)
