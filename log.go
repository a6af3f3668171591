// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package courier

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	defaultLogQueueSize = 1024
	maxLoggedBody       = 4096
)

type diagLine struct {
	msg    string
	fields logrus.Fields
}

// diagLog writes request/response diagnostics from its own goroutine so a
// slow log sink never stalls a dispatch. Lines posted while the queue is full
// are dropped and counted.
type diagLog struct {
	log     logrus.FieldLogger
	dropped prometheus.Counter

	mu     sync.RWMutex
	closed bool
	lines  chan diagLine
	done   chan struct{}
}

func newDiagLog(log logrus.FieldLogger, size int, dropped prometheus.Counter) *diagLog {
	if size <= 0 {
		size = defaultLogQueueSize
	}
	d := &diagLog{
		log:     log,
		dropped: dropped,
		lines:   make(chan diagLine, size),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *diagLog) run() {
	defer close(d.done)
	for line := range d.lines {
		d.log.WithFields(line.fields).Info(line.msg)
	}
}

func (d *diagLog) post(msg string, fields logrus.Fields) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.lines <- diagLine{msg: msg, fields: fields}:
	default:
		d.dropped.Inc()
	}
}

func (d *diagLog) request(w *WireRequest) {
	d.post("outgoing request", logrus.Fields{
		"request_id": w.ID,
		"method":     string(w.Method),
		"url":        w.URL.String(),
		"body":       loggedBody(w.Body),
	})
}

func (d *diagLog) response(info RequestInfo, status int, body []byte) {
	d.post("incoming response", logrus.Fields{
		"request_id": info.ID,
		"endpoint":   info.Endpoint,
		"status":     status,
		"body":       loggedBody(body),
	})
}

// close flushes queued lines and stops the writer.
func (d *diagLog) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.lines)
	d.mu.Unlock()
	<-d.done
}

func loggedBody(body []byte) string {
	if len(body) > maxLoggedBody {
		return string(body[:maxLoggedBody]) + "...(truncated)"
	}
	return string(body)
}

// failureFields are the fields every classified failure is logged with.
func failureFields(err *Error) logrus.Fields {
	fields := logrus.Fields{
		"request_id":    err.Request.ID,
		"endpoint":      err.Request.Endpoint,
		"method":        string(err.Request.Method),
		"kind":          string(err.Kind),
		"response_type": err.Request.ResponseType,
	}
	if err.Code != "" {
		fields["code"] = err.Code
	}
	if err.Kind == KindEncryption {
		fields["reason"] = err.Reason.String()
	}
	if err.Status != 0 {
		fields["status"] = err.Status
	}
	if err.Cause != nil {
		fields[logrus.ErrorKey] = err.Cause
	}
	return fields
}
