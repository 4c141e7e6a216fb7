// Package history keeps a local SQLite audit of Web-IO pin transitions
// and command outcomes.
//
// Rows are write-only audit data: they back the HTTP history endpoint and
// are never read back into the session engine. A Repository is added to
// every session as a sink:
//
//	repo := history.NewRepository(db.DB)
//	session.AddSink(repo)
//
// Retention is enforced by calling Prune periodically.
package history
