// Package logging provides a leveled multi-sink logger whose writes can be
// confirmed.
//
// Levels are named priorities, lower meaning more severe. A sink with
// threshold T accepts a record at level L when prio(T) >= prio(L). Each sink
// writes on its own goroutine and reports every persisted record.
//
// Confirm is used where a record must not be lost, typically the last line
// written before the process exits:
//
//	c, err := logger.Confirm("info", "servers stopped on message: shutdown")
//	if err == nil {
//	    _ = c.Wait(ctx)
//	}
//
// The completion is done once each eligible sink has written the record. If
// no sink accepts the level it is done immediately.
//
// Sink types console and file are built in; RegisterSink adds others.
package logging
