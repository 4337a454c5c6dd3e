// Package buffer provides a bounded, thread-safe history of recent items.
//
// A Ring keeps the last N values added to it and overwrites the oldest when
// full. The TUI uses one for log lines and another for caption history:
//
//	lines := buffer.RingN[string](200)
//	lines.Add("capture started")
//	for _, l := range lines.Items() {
//		fmt.Println(l)
//	}
package buffer
