// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

//go:build darwin

package serial

var defaultConfig = Config{
	port: "/dev/tty.usbmodem0000000000001",
	baud: 115200,
}
