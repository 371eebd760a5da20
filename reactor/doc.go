// Package reactor's platform backends: epoll on Linux, select(2) on other
// Unix systems, and a timer-only poller on Windows.
package reactor
