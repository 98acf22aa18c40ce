package audit

import (
	"fmt"
	"sync"
)

var (
	globalMu     sync.RWMutex
	globalWriter Writer = NopWriter{}
	enabled      bool
)

// Init installs w as the global audit writer. A nil w disables auditing.
func Init(w Writer) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if w == nil {
		globalWriter = NopWriter{}
		enabled = false
		return nil
	}
	globalWriter = w
	enabled = true
	return nil
}

// InitFile installs a FileWriter for path. An empty path disables auditing.
func InitFile(path string) error {
	if path == "" {
		return Init(nil)
	}
	w, err := NewFileWriter(path)
	if err != nil {
		return err
	}
	return Init(w)
}

// Close closes the global writer and disables auditing.
func Close() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	err := globalWriter.Close()
	globalWriter = NopWriter{}
	enabled = false
	return err
}

// Enabled returns whether audit logging is active.
func Enabled() bool {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return enabled
}

// Log writes an event to the global writer.
func Log(event *Event) error {
	globalMu.RLock()
	w := globalWriter
	globalMu.RUnlock()
	return w.Write(event)
}

// MustLog is Log with an error suitable for failing the caller.
//
//	if err := audit.MustLog(event); err != nil {
//	    return err // Operation fails if audit fails
//	}
func MustLog(event *Event) error {
	if err := Log(event); err != nil {
		return fmt.Errorf("audit log failed: %w", err)
	}
	return nil
}

// LogRequest records a TimeStampReq written to path or sent to url.
func LogRequest(obj Object, ctx Context) error {
	obj.Type = "request"
	return MustLog(NewEvent(EventTSARequest, ResultSuccess).WithObject(obj).WithContext(ctx))
}

// LogResponse records a TimeStampResp received from url. success is
// false for transport failures and rejections.
func LogResponse(obj Object, ctx Context, success bool) error {
	obj.Type = "response"
	return MustLog(NewEvent(EventTSAResponse, resultOf(success)).WithObject(obj).WithContext(ctx))
}

// LogVerify records the outcome of validating a timestamp response.
func LogVerify(obj Object, ctx Context, verified bool) error {
	obj.Type = "token"
	return MustLog(NewEvent(EventTSAVerify, resultOf(verified)).WithObject(obj).WithContext(ctx))
}
