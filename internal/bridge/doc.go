// Package bridge is the MQTT transport adapter for the telemetry core.
//
// Battery-powered and outdoor nodes prefer MQTT over HTTP; the bridge
// makes both paths equivalent. Sensor reports arriving on the configured
// sensor topic go through the same validation and persistence as HTTP
// submissions, and every accepted LED command is republished on the
// command topic for devices that only listen to the broker.
//
// The bridge holds no state: it translates between broker messages and
// core calls, and relays connection notices to dashboard clients.
package bridge
