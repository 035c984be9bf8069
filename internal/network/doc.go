// Package network provides platform socket helpers for the rendezvous
// UDP socket pair.
package network
