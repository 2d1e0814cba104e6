// Package apply installs verified release archives over a live project
// tree.
//
// Before any file is touched the whole tree is copied into a rollback
// snapshot beside the project root:
//
//	<parent>/app/                      live installation
//	<parent>/.rollback/<blake2b(ver)>/ snapshot of version ver
//	<parent>/.valence/                 update lock and journal
//
// The archive is then overlaid on the live tree. If any write fails the
// live tree is restored from the snapshot before the error is returned, so
// a failed update never leaves a mix of old and new files behind.
//
// Applier does not lock. Callers that may race take Applier.Lock first.
package apply
