// Package resolver answers POSIX-style questions about one pinned version of
// a root: which node a path names, its attributes, a directory's listing,
// a file's bytes and a symlink's target.
//
// A Session is opened against a root with a Selector and keeps the chosen
// version for its whole lifetime, so later appends to the root are not seen
// by an open mount. Each session owns a bounded cache of resolved paths and
// decoded objects; nothing is shared between sessions.
//
// Every digest a session reaches comes from the pinned tree. If the record
// behind one is missing, the tree is broken, and the session reports
// util.ErrIntegrity rather than util.ErrNotFound. ErrNotFound is reserved for
// names that are not in the tree.
package resolver
