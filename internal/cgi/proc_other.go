//go:build !unix

package cgi

import "os/exec"

func configureProcess(*exec.Cmd) {}
