/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package transportstats

import (
	"net"
	"sync/atomic"
	"time"
)

// FeedbackConn wraps a net.Conn carrying ROHC feedback, tracking byte
// counters and registering itself with a FeedbackChannelCollector for the
// duration of its lifetime.
//
// raw is kept separately from the embedded net.Conn because
// FeedbackChannelCollector.Add extracts the file descriptor via
// netfd.GetFdFromConn, which inspects the concrete net.Conn implementation
// (*net.TCPConn) by reflection and would not recognize this wrapper type.
type FeedbackConn struct {
	net.Conn
	raw net.Conn

	collector *FeedbackChannelCollector

	OpenedAt  int64
	ClosedAt  int64
	FirstRxAt int64
	LastRxAt  int64
	FirstTxAt int64
	LastTxAt  int64
	RxBytes   int64
	TxBytes   int64
	RxErr     error
	TxErr     error
}

// WrapFeedbackConn registers conn with collector under labels and returns a
// net.Conn that tracks read/write activity until Close. labels must match
// the connectionLabels collector was built with.
func WrapFeedbackConn(conn net.Conn, collector *FeedbackChannelCollector, labels []string) *FeedbackConn {
	w := &FeedbackConn{
		Conn:      conn,
		raw:       conn,
		collector: collector,
		OpenedAt:  time.Now().UnixNano(),
	}
	collector.Add(conn, labels)
	return w
}

// Close stops tracking the connection's health and closes the underlying
// connection.
func (w *FeedbackConn) Close() error {
	w.ClosedAt = time.Now().UnixNano()
	w.collector.Remove(w.raw)
	return w.Conn.Close()
}

func (w *FeedbackConn) Read(b []byte) (int, error) {
	n, err := w.Conn.Read(b)
	if n > 0 {
		ts := time.Now().UnixNano()
		if atomic.LoadInt64(&w.FirstRxAt) == 0 {
			atomic.StoreInt64(&w.FirstRxAt, ts)
		}
		atomic.StoreInt64(&w.LastRxAt, ts)
		atomic.AddInt64(&w.RxBytes, int64(n))
	}
	if err != nil {
		if netErr, ok := err.(net.Error); !ok || !netErr.Timeout() {
			w.RxErr = err
		}
	}
	return n, err
}

func (w *FeedbackConn) Write(b []byte) (int, error) {
	n, err := w.Conn.Write(b)
	if n > 0 {
		ts := time.Now().UnixNano()
		if atomic.LoadInt64(&w.FirstTxAt) == 0 {
			atomic.StoreInt64(&w.FirstTxAt, ts)
		}
		atomic.StoreInt64(&w.LastTxAt, ts)
		atomic.AddInt64(&w.TxBytes, int64(n))
	}
	if err != nil {
		if netErr, ok := err.(net.Error); !ok || !netErr.Timeout() {
			w.TxErr = err
		}
	}
	return n, err
}
