// Package replication carries replicated writes from the leader to its
// followers.
//
// A Transport delivers one Message to one peer and reports a plain success
// flag. Two transports exist: gRPC, using a CBOR codec over a hand-declared
// service, and HTTP/JSON against the follower's /replicate route. On the
// receiving side an Applier merges incoming messages into the local store.
package replication
