// Package store provides a Redis-backed key-value Store.
//
// Entries are written without expiry and stay until they are deleted or closed:
// MarkAsClosed keeps the value readable for ClosedTTL (7 days by default) and lets Redis
// expire it afterwards. Services use it to remember per-message or per-resource state
// across redeliveries, for example to make a message handler idempotent.
//
//	s, err := store.NewRedisStore(store.Config{URL: "redis://localhost:6379/0", KeyPrefix: "worker:"}, log)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	if _, seen, _ := s.Get(ctx, msgID); seen {
//	    return nil
//	}
//	...
//	_ = s.Set(ctx, msgID, "done")
//	_ = s.MarkAsClosed(ctx, msgID)
//
// A missing key is never an error: Get reports it through the exists result, and
// Delete and MarkAsClosed do nothing.
package store
