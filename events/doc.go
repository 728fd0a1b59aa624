// Package events publishes committed generation events to external
// consumers. Sinks are notified after the event is persisted; a failed
// publish is logged by the caller and never rolls the event back. Consumers
// that miss events can page through the event log over HTTP.
package events
