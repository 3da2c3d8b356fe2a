package messaging

import "github.com/segmentio/kafka-go"

const (
	HeaderError       = "x-error"
	HeaderSourceTopic = "x-source-topic"
)

// HeaderCarrier adapts kafka message headers to the OTel TextMapCarrier
// interface so trace context travels with each task.
type HeaderCarrier struct {
	msg *kafka.Message
}

func NewHeaderCarrier(msg *kafka.Message) *HeaderCarrier {
	return &HeaderCarrier{msg: msg}
}

func (c *HeaderCarrier) Get(key string) string {
	return headerValue(c.msg.Headers, key)
}

func (c *HeaderCarrier) Set(key, value string) {
	c.msg.Headers = setHeader(c.msg.Headers, key, value)
}

func (c *HeaderCarrier) Keys() []string {
	keys := make([]string, len(c.msg.Headers))
	for i, h := range c.msg.Headers {
		keys[i] = h.Key
	}
	return keys
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func setHeader(headers []kafka.Header, key, value string) []kafka.Header {
	for i, h := range headers {
		if h.Key == key {
			headers[i].Value = []byte(value)
			return headers
		}
	}
	return append(headers, kafka.Header{Key: key, Value: []byte(value)})
}
