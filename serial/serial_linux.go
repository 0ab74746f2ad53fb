// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

//go:build linux

package serial

// the nRF9160 DK enumerates as a CDC ACM device
var defaultConfig = Config{
	port: "/dev/ttyACM0",
	baud: 115200,
}
