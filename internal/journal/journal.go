// Package journal writes every inbound frame and its reply as one JSON line
package journal

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/edgeo-scada/sia/sia"
)

// Journal is a sia.RawRecorder backed by zap
type Journal struct {
	logger *zap.Logger
	file   *os.File
}

// Open appends to the file at path, creating it when missing
func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	j := New(zapcore.AddSync(f))
	j.file = f
	return j, nil
}

// New writes the journal to ws
func New(ws zapcore.WriteSyncer) *Journal {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	enc.MessageKey = zapcore.OmitKey
	enc.CallerKey = zapcore.OmitKey
	enc.StacktraceKey = zapcore.OmitKey

	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), ws, zap.InfoLevel)
	return &Journal{logger: zap.New(core)}
}

// Record implements sia.RawRecorder
func (j *Journal) Record(r sia.RawRecord) {
	fields := []zap.Field{
		zap.String("conn", r.ConnID),
		zap.String("transport", r.Transport),
		zap.String("remote", r.RemoteAddr),
		zap.Time("received_at", r.ReceivedAt),
		zap.String("frame", string(r.Frame)),
		zap.String("response", strings.TrimSpace(string(r.Response))),
	}
	if r.Failure != sia.FailureNone {
		fields = append(fields, zap.Stringer("failure", r.Failure))
		j.logger.Warn("", fields...)
		return
	}
	j.logger.Info("", fields...)
}

// Close flushes and closes the journal
func (j *Journal) Close() error {
	err := j.logger.Sync()
	if j.file != nil {
		if cerr := j.file.Close(); cerr != nil {
			return cerr
		}
	}
	return err
}
