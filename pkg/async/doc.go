// Package async runs fire-and-forget work off the request path.
//
// SafeGo starts a goroutine with panic recovery, a timeout and error
// logging. Its context keeps the caller's values (request id, actor) but not
// its cancellation.
//
// Tasks adds tracking on top so shutdown can drain pending writes before
// the database closes:
//
//	tasks := async.NewTasks(logger)
//	recorder := audit.NewRecorder(dbLogger, logger).Async(tasks)
//	...
//	shutdown.RegisterShutdownFunc("storage", func(ctx context.Context) error {
//		if err := tasks.Wait(ctx); err != nil {
//			return err
//		}
//		return db.Close()
//	})
package async
