// Package updater polls every subscription on a schedule and delivers the
// posts its subscriber has not seen yet.
//
// New posts are found by walking a feed newest to oldest and stopping at the
// first post that is not newer than the subscription's last check or whose
// title digest is in its recent-digest window. Candidates are delivered
// oldest first; the dedup state is persisted only after at least one post
// was delivered.
package updater
