// Package discovery implements both halves of coordinator discovery:
// on the root, the FSM that locates the coordinator (cache probe, mDNS
// query, broadcast listen, retry backoff); on the coordinator, the
// mDNS advertiser and broadcast emitter that make it discoverable.
package discovery
