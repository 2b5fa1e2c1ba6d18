// Package directory tracks registered devices and resolves actuation targets.
//
// Devices self-register over HTTP on boot (and may re-register at any
// time). The directory keys registrations by name so a device that comes
// back with a new IP simply refreshes its row. Command forwarding asks the
// directory for the most recently seen device of the configured controller
// type; when none exists the forwarder falls back to a configured default
// address.
package directory
