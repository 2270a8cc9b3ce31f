// Package broadcast fans feed entries out to live subscriber sessions.
//
// The Registry owns the session set behind a RWMutex. Broadcast only takes the
// read lock and never blocks on a socket: each session has its own writer
// goroutine with a bounded queue, and a session whose queue is full is dropped.
// New sessions receive the replayable history before any live entry.
package broadcast
