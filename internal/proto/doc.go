// Package proto implements the wire framing and payload codecs for the
// bridge protocol spoken between a mesh root node and the coordinator.
//
// # Frame layout
//
// Every datagram has the shape:
//
//	CMD(1) | LEN(2, BE) | [SEQ(2, BE) iff CMD is Register or an RPC command] | PAYLOAD(LEN bytes) | CHKSUM(2, BE)
//
// LEN counts payload bytes only. CHKSUM is the 16-bit modular sum of
// every byte preceding the checksum field. Packets are capped at
// MaxPacketSize (1472 bytes) so they fit one unfragmented Ethernet
// datagram; Encode refuses to build anything larger and Decode drops
// anything larger it is handed.
//
// # Command families
//
// Register/Heartbeat/StateUpdate/RegisterAck/Mirror are fixed,
// single-purpose commands. The RPC range (0xE7-0xFF) carries a caller
// chosen sequence number used to match requests to responses; see
// package coordinator for the matching side and package root for the
// dispatch side.
package proto
