package reset

import "go.opentelemetry.io/otel"

const scopeName = "github.com/aretw0/sessionflow/pkg/reset"

var tracer = otel.Tracer(scopeName)
