// Package notify delivers subscription lifecycle notifications.
//
// The expiry sweep decides which notification an organization is due and
// hands it to a Dispatcher. Delivery itself (email, SMS) belongs to another
// service; the RedisOutbox dispatcher pushes JSON onto a list that service
// consumes, and the LogDispatcher only logs.
//
//	dispatcher := notify.NewMultiDispatcher(
//		notify.NewLogDispatcher(logger),
//		notify.NewRedisOutbox(redisClient, notify.DefaultOutboxKey),
//	)
package notify
