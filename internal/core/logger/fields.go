package logger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func StringField(key, value string) Field { return zap.String(key, value) }

func ErrorField(key string, err error) Field { return zap.NamedError(key, err) }

func AnyField(key string, value any) Field { return zap.Any(key, value) }

func Int64Field(key string, value int64) Field { return zap.Int64(key, value) }

func IntField(key string, value int) Field { return zap.Int(key, value) }

func DurationField(key string, value time.Duration) Field { return zap.Duration(key, value) }

// DecimalField logs amounts as fixed two-place strings.
func DecimalField(key string, value decimal.Decimal) Field {
	return zap.String(key, value.StringFixed(2))
}

func UUIDField(key string, value uuid.UUID) Field { return zap.String(key, value.String()) }
