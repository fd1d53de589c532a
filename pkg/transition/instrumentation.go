package transition

import "go.opentelemetry.io/otel"

const scopeName = "github.com/aretw0/sessionflow/pkg/transition"

var tracer = otel.Tracer(scopeName)
