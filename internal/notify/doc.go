// Package notify is the notification dispatcher.
//
// After a message fans out to a room's live connections, the dispatcher
// walks the room's persisted membership. Members who were not live in
// the room get their unread counter incremented; those of them connected
// somewhere else in the app also receive a notification event, unless
// they opted out. Counters clear when the member next joins the room.
package notify
