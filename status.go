// Copyright (c) 2025 The labsync developers. All rights reserved.
// Project site: https://github.com/hqe-lab/labsync
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package labsync

// ConnectionStatus provides the type for the lifecycle of a device's physical
// link. It is only mutated by a driver's Open and Close calls.
type ConnectionStatus int

// Available connection states.
const (
	Disconnected ConnectionStatus = iota
	Connected
	Errored
	Disconnecting
)

var connectionStatusDesc = map[ConnectionStatus]string{
	Disconnected:  "DISCONNECTED",
	Connected:     "CONNECTED",
	Errored:       "ERROR",
	Disconnecting: "DISCONNECTING",
}

func (s ConnectionStatus) String() string {
	return connectionStatusDesc[s]
}
