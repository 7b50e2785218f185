// Package wait provides the context-aware delay shared by the device-flow
// poller and the fork waiter.
package wait
