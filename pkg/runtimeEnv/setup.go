// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package runtimeEnv

import (
	"net"
	"os"
	"os/user"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/linux-automation/tacd-go/pkg/log"
)

// LoadEnv loads file into the process environment if it exists, leaving
// variables already set untouched. A missing file is not an error: the
// daemon runs fine off its built-in defaults and systemd-provided
// environment alone.
func LoadEnv(file string) error {
	err := godotenv.Load(file)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Changes the processes user and group to that
// specified in the config. The go runtime
// takes care of all threads (and not only the calling one)
// executing the underlying systemcall.
func DropPrivileges(username string, group string) error {
	if group != "" {
		g, err := user.LookupGroup(group)
		if err != nil {
			log.Warn("Error while looking up group")
			return err
		}

		gid, _ := strconv.Atoi(g.Gid)
		if err := syscall.Setgid(gid); err != nil {
			log.Warn("Error while setting gid")
			return err
		}
	}

	if username != "" {
		u, err := user.Lookup(username)
		if err != nil {
			log.Warn("Error while looking up user")
			return err
		}

		uid, _ := strconv.Atoi(u.Uid)
		if err := syscall.Setuid(uid); err != nil {
			log.Warn("Error while setting uid")
			return err
		}
	}

	return nil
}

// Notify sends a single sd_notify(3) datagram to the socket named by
// NOTIFY_SOCKET, e.g. "READY=1", "WATCHDOG=1" or "WATCHDOG=trigger".
// It is a no-op (and returns nil) if the process was not started by systemd.
func Notify(state string) error {
	sock := os.Getenv("NOTIFY_SOCKET")
	if sock == "" {
		return nil
	}

	addr := &net.UnixAddr{Name: sock, Net: "unixgram"}
	conn, err := net.DialUnix("unixgram", nil, addr)
	if err != nil {
		log.Warnf("sd_notify: could not dial %s: %s", sock, err)
		return err
	}
	defer conn.Close()

	_, err = conn.Write([]byte(state))
	return err
}

// WatchdogInterval reports the watchdog interval systemd asked this process
// to observe, as communicated via WATCHDOG_USEC/WATCHDOG_PID (see
// sd_watchdog_enabled(3)). The second return value is false if no watchdog
// was requested for this process, in which case the caller should not feed
// a watchdog at all.
func WatchdogInterval() (time.Duration, bool) {
	usecStr := os.Getenv("WATCHDOG_USEC")
	if usecStr == "" {
		return 0, false
	}

	if pidStr := os.Getenv("WATCHDOG_PID"); pidStr != "" {
		if pid, err := strconv.Atoi(pidStr); err == nil && pid != os.Getpid() {
			return 0, false
		}
	}

	usec, err := strconv.ParseInt(usecStr, 10, 64)
	if err != nil || usec <= 0 {
		return 0, false
	}

	return time.Duration(usec) * time.Microsecond, true
}
