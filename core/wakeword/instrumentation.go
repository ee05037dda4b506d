package wakeword

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/koscakluka/ema-companion/core/wakeword"

var logger = otelslog.NewLogger(scopeName)
