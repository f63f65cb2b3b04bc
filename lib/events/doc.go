// Package events implements the publish/subscribe layer between a mesh
// connection and the application.
//
// Every event is a typed Go value that knows its Topic. Topics are dot
// separated paths ("connection.lost", "receive.text", "receive.data.<PORT>"),
// and a subscription to a topic also receives the events of its sub-topics:
//
//	d := events.NewDispatcher()
//	sub := events.SubscribeFunc(d, events.TopicReceiveText, func(e events.TextReceived) error {
//	    fmt.Println(e.Packet.From, e.Text)
//	    return nil
//	})
//	defer sub.Unsubscribe()
//
// Delivery is synchronous and happens in registration order on the
// publishing goroutine (the reader of the connection). Handlers should return
// quickly and hand long running work to their own goroutines. A handler that
// returns an error or panics is logged; the remaining subscribers still get
// the event. The dispatcher never reorders or prioritises events.
package events
