package telemetry

import "go.opentelemetry.io/otel/attribute"

func attrString(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

func attrBool(key string, value bool) attribute.KeyValue {
	return attribute.Bool(key, value)
}

func attrResult(allowed bool) attribute.KeyValue {
	if allowed {
		return attribute.String("result", "allowed")
	}
	return attribute.String("result", "denied")
}
