package logger

import (
	"time"

	"go.uber.org/zap"
)

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field    { return zap.String("method", v) }
func Path(v string) zap.Field      { return zap.String("path", v) }
func Status(v int) zap.Field       { return zap.Int("status", v) }
func ClientIP(v string) zap.Field  { return zap.String("client_ip", v) }

func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

func Component(v string) zap.Field  { return zap.String("component", v) }
func DocumentID(v string) zap.Field { return zap.String("document_id", v) }
func Revision(v int) zap.Field      { return zap.Int("revision", v) }
func Backend(v string) zap.Field    { return zap.String("backend", v) }

// Err is zap.Error under a name that does not clash with the Errorf helpers.
func Err(err error) zap.Field { return zap.Error(err) }
