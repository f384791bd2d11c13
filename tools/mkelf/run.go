// Copyright 2024 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mkelf

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"

	"github.com/kballard/go-shellquote"
)

var output io.Writer = log.Writer()

// runCommand runs cmdline with elfpath appended, e.g. "xtensa-lx106-elf-gdb
// -q". The command's output is forwarded line by line. An interrupt is
// passed on to the whole process group.
func runCommand(cmdline, elfpath string) error {
	args, err := shellquote.Split(cmdline)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return fmt.Errorf("empty command")
	}
	args = append(args, elfpath)
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stderr = os.Stderr
	processGroupEnable(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open stdout: %w", err)
	}

	sigintr := make(chan os.Signal, 1)
	signal.Notify(sigintr, os.Interrupt)
	defer signal.Stop(sigintr)

	err = cmd.Start()
	if err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigintr:
			if err := processGroupKill(cmd); err != nil {
				log.Println(err)
			}
		case <-done:
		}
	}()

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		fmt.Fprintln(output, scanner.Text())
	}
	return cmd.Wait()
}
