// Package serial monitors a delimiter-framed byte stream from a serial
// device and hands the newest complete frame to a single consumer.
//
// A Monitor reads the device on a dedicated goroutine, splits the stream on
// a single delimiter byte (default '\n') and keeps only the most recent
// frame. Consumers are notified without a payload, pull the frame with
// LatestFrame and acknowledge with Ack. Until the acknowledgment arrives no
// further notification fires, so a slow consumer is never flooded: frames
// produced in the meantime replace each other instead of queueing, and a
// frame identical to its predecessor is never reported.
//
// Features:
//   - Raw syscall-based serial I/O on Linux (Open), plus a portable
//     driver (OpenPortable) for other platforms
//   - Latest-wins delivery with duplicate suppression
//   - Callbacks on a designated Dispatcher, e.g. an Executor goroutine
//   - Synchronous Stop: nothing is read or dispatched after it returns
//   - PTY-based tests for reliability
//
// Example usage:
//
//	port, err := serial.Open(serial.Config{
//	    Device:   "/dev/ttyUSB0",
//	    BaudRate: 115200,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	exec := serial.NewExecutor()
//	defer exec.Close()
//
//	reader := serial.NewReader(port,
//	    func(frame []byte) (string, bool) { return string(frame), len(frame) > 0 },
//	    serial.WithDispatcher(exec),
//	)
//	reader.OnStateChanged(func(s string) { fmt.Println("state:", s) })
//	reader.OnDisconnected(func(err error) { log.Println("disconnected:", err) })
//	if err := reader.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//	defer reader.Finish()
package serial
