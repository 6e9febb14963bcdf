// Package state persists the small pieces of run state that survive a
// restart: the resume checkpoint and the advisory lock.
//
// Both live as objects in a gocloud.dev blob bucket, so state can sit in
// a local directory (the default, ~/.hibpdl) or in object storage shared
// between machines. The checkpoint is a two-line text file naming the
// last fully written batch and the output it was appended to:
//
//	0fc0-1000
//	/home/user/hash+count.bin
//
// # Usage
//
//	store, err := state.OpenDir("/home/user/.hibpdl")
//	defer store.Close()
//
//	cp, err := store.LoadCheckpoint(ctx)
//	if errors.Is(err, state.ErrNoCheckpoint) {
//	    // fresh start
//	}
package state
